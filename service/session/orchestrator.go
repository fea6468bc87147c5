// Package session orchestrates the support-request lifecycle: match ->
// proposal -> acceptance -> running session -> end. A match is only a
// proposal; consultant acceptance is the commit point.
package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"CareBridge/logger"
	"CareBridge/service/hub"
	"CareBridge/service/match"
	"CareBridge/service/storage"
	"CareBridge/tools/ids"
)

var (
	ErrProposalNotFound = errors.New("proposal not found or expired")
	ErrProposalMismatch = errors.New("request was proposed to a different consultant")
	ErrSessionNotFound  = errors.New("session not found")
)

// Publisher is the slice of the event bus the orchestrator emits through.
type Publisher interface {
	Broadcast(t hub.EventType, payload any)
	BroadcastToRole(t hub.EventType, payload any, roles ...hub.Role)
	BroadcastToHospital(t hub.EventType, payload any, hospitalID int64)
	SendToUser(t hub.EventType, payload any, userID int64) bool
	SendToSession(t hub.EventType, payload any, requesterID, consultantID int64)
}

// Matcher selects a consultant for a request; ok=false means queue it.
type Matcher interface {
	Match(ctx context.Context, req match.Request) (*match.Result, bool)
}

// Store is the coordination state behind the orchestrator.
type Store interface {
	SetAvailable(ctx context.Context, consultantID int64, available bool) error
	IncrSessionsToday(ctx context.Context, consultantID int64) error
	Enqueue(ctx context.Context, qr storage.QueuedRequest) (int, error)
	Dequeue(ctx context.Context) (*storage.QueuedRequest, error)
	Requeue(ctx context.Context, qr storage.QueuedRequest) error
	Queue(ctx context.Context) ([]storage.QueuedRequest, error)
	SaveProposal(ctx context.Context, p storage.Proposal) error
	TakeProposal(ctx context.Context, requestID string) (*storage.Proposal, error)
	SaveSession(ctx context.Context, sess storage.Session) error
	TakeSession(ctx context.Context, sessionID string) (*storage.Session, error)
}

// Room is whatever the external video-room collaborator hands back.
type Room struct {
	URL             string
	RequesterToken  string
	ConsultantToken string
}

// RoomProvisioner is the opaque external video-room service, invoked only
// after a match is accepted.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, sessionID string) (Room, error)
}

type Orchestrator struct {
	matcher Matcher
	store   Store
	bus     Publisher
	rooms   RoomProvisioner
}

func NewOrchestrator(matcher Matcher, store Store, bus Publisher, rooms RoomProvisioner) *Orchestrator {
	return &Orchestrator{matcher: matcher, store: store, bus: bus, rooms: rooms}
}

// SubmitInput is an inbound support request.
type SubmitInput struct {
	StaffID               int64
	StaffName             string
	HospitalID            int64
	Department            string
	PreferredConsultantID int64
}

// SubmitOutcome reports what happened to a submitted request.
type SubmitOutcome struct {
	RequestID    string
	Matched      bool
	ConsultantID int64
	Reasons      []string
	Position     int // 1-based queue position when not matched
}

// SubmitRequest matches the request and either proposes it to a consultant
// or queues it. No-match is a normal outcome, not an error.
func (o *Orchestrator) SubmitRequest(ctx context.Context, in SubmitInput) (*SubmitOutcome, error) {
	requestID := ids.GenerateString()

	res, ok := o.matcher.Match(ctx, match.Request{
		StaffID:               in.StaffID,
		HospitalID:            in.HospitalID,
		Department:            in.Department,
		PreferredConsultantID: in.PreferredConsultantID,
	})
	if !ok {
		pos, err := o.store.Enqueue(ctx, storage.QueuedRequest{
			RequestID:             requestID,
			StaffID:               in.StaffID,
			HospitalID:            in.HospitalID,
			Department:            in.Department,
			PreferredConsultantID: in.PreferredConsultantID,
			EnqueuedAt:            time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		o.bus.SendToUser(hub.EventQueuePositionUpdate,
			hub.QueuePositionUpdatePayload{RequestID: requestID, Position: pos}, in.StaffID)
		logger.Infof("[session] queued request=%s staff=%d pos=%d", requestID, in.StaffID, pos)
		return &SubmitOutcome{RequestID: requestID, Position: pos}, nil
	}

	if err := o.propose(ctx, storage.Proposal{
		RequestID:       requestID,
		StaffID:         in.StaffID,
		HospitalID:      in.HospitalID,
		Department:      in.Department,
		ConsultantID:    res.Consultant.ID,
		ConsultantName:  res.Consultant.Name,
		ConsultantEmail: res.Consultant.Email,
		Reasons:         res.Reasons,
		CreatedAt:       time.Now().UTC(),
	}, in.StaffName); err != nil {
		return nil, err
	}
	return &SubmitOutcome{
		RequestID:    requestID,
		Matched:      true,
		ConsultantID: res.Consultant.ID,
		Reasons:      res.Reasons,
	}, nil
}

// propose persists the proposal and notifies the selected consultant plus
// the admins watching the board.
func (o *Orchestrator) propose(ctx context.Context, p storage.Proposal, staffName string) error {
	if err := o.store.SaveProposal(ctx, p); err != nil {
		return err
	}
	payload := hub.SupportRequestNewPayload{
		RequestID:    p.RequestID,
		StaffID:      p.StaffID,
		StaffName:    staffName,
		HospitalID:   p.HospitalID,
		Department:   p.Department,
		ConsultantID: p.ConsultantID,
		Reasons:      p.Reasons,
	}
	if !o.bus.SendToUser(hub.EventSupportRequestNew, payload, p.ConsultantID) {
		// Best-effort: the consultant's UI reconciles the open proposal on
		// its next reconnect or poll.
		logger.Infof("[session] consultant offline request=%s consultant=%d", p.RequestID, p.ConsultantID)
	}
	o.bus.BroadcastToRole(hub.EventSupportRequestNew, payload, hub.RoleAdmin)
	return nil
}

// AcceptRequest is the commit point. The proposal is consumed, the rotation
// counter bumped, the room provisioned and both parties notified.
func (o *Orchestrator) AcceptRequest(ctx context.Context, requestID string, consultantID int64) (*storage.Session, error) {
	p, err := o.store.TakeProposal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProposalNotFound
	}
	if p.ConsultantID != consultantID {
		return nil, ErrProposalMismatch
	}

	if err := o.store.IncrSessionsToday(ctx, consultantID); err != nil {
		logger.Errorf("[session] rotation incr consultant=%d: %v", consultantID, err)
	}

	sessionID := ids.GenerateString()

	var room Room
	if o.rooms != nil {
		room, err = o.rooms.CreateRoom(ctx, sessionID)
		if err != nil {
			// Degrade to a session without a room handle rather than undo
			// the acceptance; the UI offers a retry for the room join.
			logger.Errorf("[session] room provisioning session=%s: %v", sessionID, err)
			room = Room{}
		}
	}

	sess := storage.Session{
		SessionID:    sessionID,
		RequestID:    requestID,
		StaffID:      p.StaffID,
		ConsultantID: consultantID,
		RoomURL:      room.URL,
		StartedAt:    time.Now().UTC(),
	}
	if err := o.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	o.bus.SendToSession(hub.EventSupportRequestAccepted, hub.SupportRequestAcceptedPayload{
		RequestID:      requestID,
		SessionID:      sessionID,
		ConsultantID:   consultantID,
		ConsultantName: p.ConsultantName,
	}, p.StaffID, consultantID)

	o.bus.SendToSession(hub.EventSupportSessionStarted, hub.SupportSessionStartedPayload{
		SessionID:       sessionID,
		RoomURL:         room.URL,
		RequesterToken:  room.RequesterToken,
		ConsultantToken: room.ConsultantToken,
	}, p.StaffID, consultantID)

	logger.Infof("[session] accepted request=%s session=%s consultant=%d", requestID, sessionID, consultantID)
	return &sess, nil
}

// EndSession closes a running session and notifies both parties.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string, endedBy int64) error {
	sess, err := o.store.TakeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	o.bus.SendToSession(hub.EventSupportSessionEnded, hub.SupportSessionEndedPayload{
		SessionID: sessionID,
		EndedBy:   endedBy,
	}, sess.StaffID, sess.ConsultantID)
	logger.Infof("[session] ended session=%s by=%d", sessionID, endedBy)
	return nil
}

// SetConsultantStatus flips availability and, when a consultant comes back
// online, drains the pending queue through the matcher.
func (o *Orchestrator) SetConsultantStatus(ctx context.Context, consultantID int64, available bool) error {
	if err := o.store.SetAvailable(ctx, consultantID, available); err != nil {
		return err
	}
	o.bus.BroadcastToRole(hub.EventConsultantStatusChanged,
		hub.ConsultantStatusChangedPayload{ConsultantID: consultantID, Available: available},
		hub.RoleAdmin, hub.RoleHospitalStaff, hub.RoleHospitalLeadership)

	if available {
		o.DrainQueue(ctx)
	}
	return nil
}

// DrainQueue re-runs the matcher over queued requests until one fails to
// match, then tells every remaining requester its new position.
func (o *Orchestrator) DrainQueue(ctx context.Context) {
	for {
		qr, err := o.store.Dequeue(ctx)
		if err != nil {
			logger.Errorf("[session] dequeue: %v", err)
			return
		}
		if qr == nil {
			break
		}

		res, ok := o.matcher.Match(ctx, match.Request{
			StaffID:               qr.StaffID,
			HospitalID:            qr.HospitalID,
			Department:            qr.Department,
			PreferredConsultantID: qr.PreferredConsultantID,
		})
		if !ok {
			if err := o.store.Requeue(ctx, *qr); err != nil {
				logger.Errorf("[session] requeue request=%s: %v", qr.RequestID, err)
			}
			break
		}

		if err := o.propose(ctx, storage.Proposal{
			RequestID:       qr.RequestID,
			StaffID:         qr.StaffID,
			HospitalID:      qr.HospitalID,
			Department:      qr.Department,
			ConsultantID:    res.Consultant.ID,
			ConsultantName:  res.Consultant.Name,
			ConsultantEmail: res.Consultant.Email,
			Reasons:         res.Reasons,
			CreatedAt:       time.Now().UTC(),
		}, ""); err != nil {
			logger.Errorf("[session] propose request=%s: %v", qr.RequestID, err)
			return
		}
	}

	// Remaining requesters learn their new positions.
	waiting, err := o.store.Queue(ctx)
	if err != nil {
		logger.Errorf("[session] read queue: %v", err)
		return
	}
	for i, qr := range waiting {
		o.bus.SendToUser(hub.EventQueuePositionUpdate,
			hub.QueuePositionUpdatePayload{RequestID: qr.RequestID, Position: i + 1}, qr.StaffID)
	}
}
