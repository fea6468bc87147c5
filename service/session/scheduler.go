package session

import (
	"context"
	"sync"
	"time"

	"CareBridge/logger"
	"CareBridge/service/directory"
	"CareBridge/service/hub"
	"CareBridge/tools/ids"
	"CareBridge/tools/safe"
)

// ScheduleStore persists pre-booked sessions.
type ScheduleStore interface {
	InsertScheduled(ctx context.Context, ss directory.ScheduledSession) error
	UpdateScheduled(ctx context.Context, ss directory.ScheduledSession) error
	GetScheduled(ctx context.Context, sessionID string) (*directory.ScheduledSession, error)
	DueForReminder(ctx context.Context, window time.Duration) ([]directory.ScheduledSession, error)
	MarkReminded(ctx context.Context, sessionID string) error
}

// SchedulerConf mirrors the sweeper knobs of the connection manager.
type SchedulerConf struct {
	SweepEvery     time.Duration // reminder sweep period
	ReminderWindow time.Duration // emit a reminder this long before start
}

func (c *SchedulerConf) norm() {
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
	if c.ReminderWindow <= 0 {
		c.ReminderWindow = 15 * time.Minute
	}
}

// Scheduler emits scheduled-session lifecycle events and runs the reminder
// sweep.
type Scheduler struct {
	store    ScheduleStore
	bus      Publisher
	conf     SchedulerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewScheduler(store ScheduleStore, bus Publisher, conf SchedulerConf) *Scheduler {
	conf.norm()
	return &Scheduler{store: store, bus: bus, conf: conf, stopCh: make(chan struct{})}
}

// ScheduleInput describes a session to book.
type ScheduleInput struct {
	StaffID      int64
	ConsultantID int64
	StartsAt     time.Time
	Topic        string
}

// Create books a session and notifies both parties.
func (s *Scheduler) Create(ctx context.Context, in ScheduleInput) (*directory.ScheduledSession, error) {
	ss := directory.ScheduledSession{
		SessionID:    ids.GenerateString(),
		StaffID:      in.StaffID,
		ConsultantID: in.ConsultantID,
		StartsAt:     in.StartsAt.UTC(),
		Topic:        in.Topic,
	}
	if err := s.store.InsertScheduled(ctx, ss); err != nil {
		return nil, err
	}
	s.bus.SendToSession(hub.EventScheduledSessionNew, payloadFor(ss), ss.StaffID, ss.ConsultantID)
	return &ss, nil
}

// Update rebooks a session. A moved start time re-arms its reminder.
func (s *Scheduler) Update(ctx context.Context, sessionID string, in ScheduleInput) error {
	prev, err := s.store.GetScheduled(ctx, sessionID)
	if err != nil {
		return err
	}
	if prev == nil {
		return ErrSessionNotFound
	}

	ss := directory.ScheduledSession{
		SessionID:    sessionID,
		StaffID:      in.StaffID,
		ConsultantID: in.ConsultantID,
		StartsAt:     in.StartsAt.UTC(),
		Topic:        in.Topic,
		Reminded:     prev.Reminded && prev.StartsAt.Equal(in.StartsAt.UTC()),
	}
	if err := s.store.UpdateScheduled(ctx, ss); err != nil {
		return err
	}
	s.bus.SendToSession(hub.EventScheduledSessionUpdated, payloadFor(ss), ss.StaffID, ss.ConsultantID)
	return nil
}

// Start launches the reminder sweeper.
func (s *Scheduler) Start() {
	safe.Go(s.sweeper)
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) sweeper() {
	t := time.NewTicker(s.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	due, err := s.store.DueForReminder(ctx, s.conf.ReminderWindow)
	if err != nil {
		logger.Errorf("[scheduler] reminder query: %v", err)
		return
	}
	for _, ss := range due {
		s.bus.SendToSession(hub.EventScheduledSessionReminder, payloadFor(ss), ss.StaffID, ss.ConsultantID)
		if err := s.store.MarkReminded(ctx, ss.SessionID); err != nil {
			logger.Errorf("[scheduler] mark reminded session=%s: %v", ss.SessionID, err)
		}
	}
}

func payloadFor(ss directory.ScheduledSession) hub.ScheduledSessionPayload {
	return hub.ScheduledSessionPayload{
		SessionID:    ss.SessionID,
		StaffID:      ss.StaffID,
		ConsultantID: ss.ConsultantID,
		StartsAt:     ss.StartsAt.Format(time.RFC3339),
		Topic:        ss.Topic,
	}
}
