package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//   cb:support:queue                 LIST of queued request JSON
//   cb:support:proposal:<requestID>  proposal JSON, expires with proposalTTL
//   cb:support:session:<sessionID>   active session JSON
const (
	queueKey          = "cb:support:queue"
	proposalKeyPrefix = "cb:support:proposal:"
	sessionKeyPrefix  = "cb:support:session:"

	// A proposal the consultant never acted on should not linger.
	proposalTTL = 10 * time.Minute
)

// QueuedRequest is an unmatched support request waiting for a consultant.
type QueuedRequest struct {
	RequestID             string    `json:"requestId"`
	StaffID               int64     `json:"staffId"`
	HospitalID            int64     `json:"hospitalId"`
	Department            string    `json:"department"`
	PreferredConsultantID int64     `json:"preferredConsultantId,omitempty"`
	EnqueuedAt            time.Time `json:"enqueuedAt"`
}

// Proposal is a match awaiting consultant acceptance. Acceptance is the
// commit point; until then the selected consultant may vanish.
type Proposal struct {
	RequestID       string    `json:"requestId"`
	StaffID         int64     `json:"staffId"`
	HospitalID      int64     `json:"hospitalId"`
	Department      string    `json:"department"`
	ConsultantID    int64     `json:"consultantId"`
	ConsultantName  string    `json:"consultantName"`
	ConsultantEmail string    `json:"consultantEmail"`
	Reasons         []string  `json:"reasons"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Session is an accepted, running support session.
type Session struct {
	SessionID    string    `json:"sessionId"`
	RequestID    string    `json:"requestId"`
	StaffID      int64     `json:"staffId"`
	ConsultantID int64     `json:"consultantId"`
	RoomURL      string    `json:"roomUrl,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
}

// Enqueue appends an unmatched request and returns its 1-based position.
func (s *Store) Enqueue(ctx context.Context, qr QueuedRequest) (int, error) {
	data, err := json.Marshal(qr)
	if err != nil {
		return 0, errors.Wrap(err, "marshal queued request")
	}
	n, err := s.rdb.RPush(ctx, queueKey, data).Result()
	if err != nil {
		return 0, errors.Wrap(err, "enqueue request")
	}
	return int(n), nil
}

// Dequeue pops the head of the queue; nil when empty.
func (s *Store) Dequeue(ctx context.Context) (*QueuedRequest, error) {
	raw, err := s.rdb.LPop(ctx, queueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "dequeue request")
	}
	var qr QueuedRequest
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, errors.Wrap(err, "unmarshal queued request")
	}
	return &qr, nil
}

// Requeue puts a request back at the head after a failed drain attempt.
func (s *Store) Requeue(ctx context.Context, qr QueuedRequest) error {
	data, err := json.Marshal(qr)
	if err != nil {
		return errors.Wrap(err, "marshal queued request")
	}
	return errors.Wrap(s.rdb.LPush(ctx, queueKey, data).Err(), "requeue request")
}

// Queue lists the waiting requests in order.
func (s *Store) Queue(ctx context.Context) ([]QueuedRequest, error) {
	rows, err := s.rdb.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read queue")
	}
	out := make([]QueuedRequest, 0, len(rows))
	for _, row := range rows {
		var qr QueuedRequest
		if err := json.Unmarshal([]byte(row), &qr); err != nil {
			continue
		}
		out = append(out, qr)
	}
	return out, nil
}

// SaveProposal stores a pending match with a TTL.
func (s *Store) SaveProposal(ctx context.Context, p Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal proposal")
	}
	return errors.Wrap(s.rdb.Set(ctx, proposalKeyPrefix+p.RequestID, data, proposalTTL).Err(), "save proposal")
}

// TakeProposal atomically consumes a pending proposal; nil when it expired
// or was already taken.
func (s *Store) TakeProposal(ctx context.Context, requestID string) (*Proposal, error) {
	raw, err := s.rdb.GetDel(ctx, proposalKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "take proposal")
	}
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal proposal")
	}
	return &p, nil
}

// SaveSession records an accepted session.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	return errors.Wrap(s.rdb.Set(ctx, sessionKeyPrefix+sess.SessionID, data, 0).Err(), "save session")
}

// TakeSession consumes a session record on end; nil when unknown.
func (s *Store) TakeSession(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.rdb.GetDel(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "take session")
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "unmarshal session")
	}
	return &sess, nil
}
