package directory

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collScheduled = "scheduled_sessions"

// ScheduledSession is a pre-booked support session between a staff member
// and a consultant.
type ScheduledSession struct {
	SessionID    string    `bson:"sessionId"`
	StaffID      int64     `bson:"staffId"`
	ConsultantID int64     `bson:"consultantId"`
	StartsAt     time.Time `bson:"startsAt"`
	Topic        string    `bson:"topic,omitempty"`
	Reminded     bool      `bson:"reminded"`
}

func (s *Store) InsertScheduled(ctx context.Context, ss ScheduledSession) error {
	_, err := s.db.Collection(collScheduled).InsertOne(ctx, ss)
	return errors.Wrap(err, "insert scheduled session")
}

func (s *Store) UpdateScheduled(ctx context.Context, ss ScheduledSession) error {
	res, err := s.db.Collection(collScheduled).ReplaceOne(ctx,
		bson.M{"sessionId": ss.SessionID}, ss, options.Replace().SetUpsert(false))
	if err != nil {
		return errors.Wrap(err, "update scheduled session")
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (s *Store) GetScheduled(ctx context.Context, sessionID string) (*ScheduledSession, error) {
	var ss ScheduledSession
	err := s.db.Collection(collScheduled).
		FindOne(ctx, bson.M{"sessionId": sessionID}).
		Decode(&ss)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read scheduled session")
	}
	return &ss, nil
}

// DueForReminder returns un-reminded sessions starting within the window.
func (s *Store) DueForReminder(ctx context.Context, window time.Duration) ([]ScheduledSession, error) {
	now := time.Now()
	cur, err := s.db.Collection(collScheduled).Find(ctx, bson.M{
		"reminded": false,
		"startsAt": bson.M{"$gte": now, "$lte": now.Add(window)},
	})
	if err != nil {
		return nil, errors.Wrap(err, "query reminders")
	}
	defer cur.Close(ctx)

	var out []ScheduledSession
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode reminders")
	}
	return out, nil
}

func (s *Store) MarkReminded(ctx context.Context, sessionID string) error {
	_, err := s.db.Collection(collScheduled).UpdateOne(ctx,
		bson.M{"sessionId": sessionID}, bson.M{"$set": bson.M{"reminded": true}})
	return errors.Wrap(err, "mark reminded")
}
