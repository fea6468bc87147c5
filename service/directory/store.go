// Package directory implements the data-access collaborator: consultant
// identities, specialties and relationship history in MongoDB, availability
// and rotation state in Redis. Together the two back the matcher's
// Directory interface.
package directory

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"CareBridge/service/match"
	"CareBridge/service/storage"
)

const (
	collConsultants = "consultants"
	collSpecialties = "specialties"
	collPreferences = "preferences"
)

type consultantDoc struct {
	ID    int64  `bson:"id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
}

type specialtyDoc struct {
	ConsultantID int64  `bson:"consultantId"`
	Department   string `bson:"department"`
	Proficiency  string `bson:"proficiency"`
}

type preferenceDoc struct {
	StaffID      int64    `bson:"staffId"`
	ConsultantID int64    `bson:"consultantId"`
	AvgRating    *float64 `bson:"avgRating,omitempty"`
}

// Store implements match.Directory.
type Store struct {
	db    *mongo.Database
	avail *storage.Store
}

func NewStore(db *mongo.Database, avail *storage.Store) *Store {
	return &Store{db: db, avail: avail}
}

func (s *Store) AvailableConsultants(ctx context.Context) ([]match.AvailabilityRecord, error) {
	return s.avail.AvailableConsultants(ctx)
}

func (s *Store) Specialty(ctx context.Context, consultantID int64, department string) (match.Proficiency, error) {
	var doc specialtyDoc
	err := s.db.Collection(collSpecialties).
		FindOne(ctx, bson.M{"consultantId": consultantID, "department": department}).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return match.ProficiencyNone, nil
	}
	if err != nil {
		return match.ProficiencyNone, errors.Wrap(err, "read specialty")
	}
	switch match.Proficiency(doc.Proficiency) {
	case match.ProficiencyExpert:
		return match.ProficiencyExpert, nil
	case match.ProficiencyStandard:
		return match.ProficiencyStandard, nil
	default:
		return match.ProficiencyNone, nil
	}
}

func (s *Store) Preference(ctx context.Context, staffID, consultantID int64) (*match.PreferenceRecord, error) {
	var doc preferenceDoc
	err := s.db.Collection(collPreferences).
		FindOne(ctx, bson.M{"staffId": staffID, "consultantId": consultantID}).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read preference")
	}
	return &match.PreferenceRecord{
		StaffID:      doc.StaffID,
		ConsultantID: doc.ConsultantID,
		AvgRating:    doc.AvgRating,
	}, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*match.Consultant, error) {
	var doc consultantDoc
	err := s.db.Collection(collConsultants).
		FindOne(ctx, bson.M{"id": id}).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read consultant")
	}
	return &match.Consultant{ID: doc.ID, Name: doc.Name, Email: doc.Email}, nil
}
