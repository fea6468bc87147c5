// Package match selects the best available consultant for a support request.
// Scoring is pure relative to its data-access reads: every failure mode
// (empty pool, unresolvable records) resolves to "no match" and the caller
// decides whether to queue, so this package never returns an error.
package match

import (
	"context"
	"fmt"
	"sort"

	"CareBridge/logger"
)

// Proficiency of a consultant in a hospital department.
type Proficiency string

const (
	ProficiencyExpert   Proficiency = "expert"
	ProficiencyStandard Proficiency = "standard"
	ProficiencyNone     Proficiency = "none"
)

// AvailabilityRecord describes one currently-available consultant.
type AvailabilityRecord struct {
	ConsultantID  int64
	SessionsToday int
}

// PreferenceRecord captures prior relationship history between a staff
// member and a consultant. AvgRating is nil when no sessions were rated.
type PreferenceRecord struct {
	StaffID      int64
	ConsultantID int64
	AvgRating    *float64
}

// Consultant is the resolved identity behind an availability record.
type Consultant struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Request is an inbound support request to match against.
type Request struct {
	StaffID               int64
	HospitalID            int64
	Department            string
	PreferredConsultantID int64
}

// Result is the selected consultant with its ordered, human-readable score
// contributions. Produced fresh per request, never cached.
type Result struct {
	Consultant Consultant
	Score      int
	Reasons    []string
}

// Directory is the data-access collaborator. Read-only and side-effect-free
// from the engine's perspective.
type Directory interface {
	AvailableConsultants(ctx context.Context) ([]AvailabilityRecord, error)
	Specialty(ctx context.Context, consultantID int64, department string) (Proficiency, error)
	Preference(ctx context.Context, staffID, consultantID int64) (*PreferenceRecord, error)
	UserByID(ctx context.Context, id int64) (*Consultant, error)
}

type Engine struct {
	dir Directory
}

func NewEngine(dir Directory) *Engine {
	return &Engine{dir: dir}
}

type candidate struct {
	consultant Consultant
	score      int
	reasons    []string
}

// Match scores every available consultant and returns the best one, or
// ok=false when the pool is empty or no candidate could be resolved. The
// result is a proposal, not a guarantee: availability is not snapshot
// isolated and acceptance is the true commit point.
func (e *Engine) Match(ctx context.Context, req Request) (*Result, bool) {
	avail, err := e.dir.AvailableConsultants(ctx)
	if err != nil {
		logger.Errorf("[match] availability fetch: %v", err)
		return nil, false
	}
	if len(avail) == 0 {
		return nil, false
	}

	cands := make([]candidate, 0, len(avail))
	for _, rec := range avail {
		ident, err := e.dir.UserByID(ctx, rec.ConsultantID)
		if err != nil || ident == nil {
			// Transient data inconsistency: availability knows a consultant
			// the directory cannot resolve. Excluded from scoring.
			logger.Debugf("[match] unresolved consultant id=%d", rec.ConsultantID)
			continue
		}

		score := 0
		reasons := make([]string, 0, 4)

		switch prof, _ := e.dir.Specialty(ctx, rec.ConsultantID, req.Department); prof {
		case ProficiencyExpert:
			score += 30
			reasons = append(reasons, "Department expert (+30)")
		case ProficiencyStandard:
			score += 15
			reasons = append(reasons, "Department experience (+15)")
		}

		if pref, _ := e.dir.Preference(ctx, req.StaffID, rec.ConsultantID); pref != nil {
			score += 50
			reasons = append(reasons, "Previous relationship (+50)")
			if pref.AvgRating != nil && *pref.AvgRating >= 4 {
				score += 20
				reasons = append(reasons, "High rating (+20)")
			}
		}

		// Rotation fairness: no floor, a busy consultant may go negative.
		if penalty := 10 * rec.SessionsToday; penalty > 0 {
			score -= penalty
			reasons = append(reasons, fmt.Sprintf("Rotation balance (-%d)", penalty))
		}

		cands = append(cands, candidate{consultant: *ident, score: score, reasons: reasons})
	}

	if len(cands) == 0 {
		return nil, false
	}

	// Stable sort: ties resolve to the availability fetch order, so
	// identical input snapshots always produce the same selection.
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	top := cands[0]
	return &Result{Consultant: top.consultant, Score: top.score, Reasons: top.reasons}, true
}
