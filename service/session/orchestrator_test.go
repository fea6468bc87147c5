package session

import (
	"context"
	"errors"
	"testing"

	"CareBridge/service/hub"
	"CareBridge/service/match"
	"CareBridge/service/storage"
)

// fakeStore is an in-memory stand-in for the redis-backed coordination state.
type fakeStore struct {
	available map[int64]bool
	rotation  map[int64]int
	queue     []storage.QueuedRequest
	proposals map[string]storage.Proposal
	sessions  map[string]storage.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		available: make(map[int64]bool),
		rotation:  make(map[int64]int),
		proposals: make(map[string]storage.Proposal),
		sessions:  make(map[string]storage.Session),
	}
}

func (s *fakeStore) SetAvailable(_ context.Context, id int64, available bool) error {
	s.available[id] = available
	return nil
}

func (s *fakeStore) IncrSessionsToday(_ context.Context, id int64) error {
	s.rotation[id]++
	return nil
}

func (s *fakeStore) Enqueue(_ context.Context, qr storage.QueuedRequest) (int, error) {
	s.queue = append(s.queue, qr)
	return len(s.queue), nil
}

func (s *fakeStore) Dequeue(context.Context) (*storage.QueuedRequest, error) {
	if len(s.queue) == 0 {
		return nil, nil
	}
	qr := s.queue[0]
	s.queue = s.queue[1:]
	return &qr, nil
}

func (s *fakeStore) Requeue(_ context.Context, qr storage.QueuedRequest) error {
	s.queue = append([]storage.QueuedRequest{qr}, s.queue...)
	return nil
}

func (s *fakeStore) Queue(context.Context) ([]storage.QueuedRequest, error) {
	return append([]storage.QueuedRequest(nil), s.queue...), nil
}

func (s *fakeStore) SaveProposal(_ context.Context, p storage.Proposal) error {
	s.proposals[p.RequestID] = p
	return nil
}

func (s *fakeStore) TakeProposal(_ context.Context, requestID string) (*storage.Proposal, error) {
	p, ok := s.proposals[requestID]
	if !ok {
		return nil, nil
	}
	delete(s.proposals, requestID)
	return &p, nil
}

func (s *fakeStore) SaveSession(_ context.Context, sess storage.Session) error {
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *fakeStore) TakeSession(_ context.Context, sessionID string) (*storage.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	delete(s.sessions, sessionID)
	return &sess, nil
}

// fakeMatcher returns canned results in order, then no-match.
type fakeMatcher struct {
	results []*match.Result
}

func (m *fakeMatcher) Match(context.Context, match.Request) (*match.Result, bool) {
	if len(m.results) == 0 {
		return nil, false
	}
	res := m.results[0]
	m.results = m.results[1:]
	return res, true
}

type emitted struct {
	kind    string // "user", "session", "role", "hospital", "all"
	event   hub.EventType
	payload any
	userID  int64
	roles   []hub.Role
}

// fakeBus records every emission in order.
type fakeBus struct {
	events     []emitted
	userOnline bool
}

func (b *fakeBus) Broadcast(t hub.EventType, payload any) {
	b.events = append(b.events, emitted{kind: "all", event: t, payload: payload})
}

func (b *fakeBus) BroadcastToRole(t hub.EventType, payload any, roles ...hub.Role) {
	b.events = append(b.events, emitted{kind: "role", event: t, payload: payload, roles: roles})
}

func (b *fakeBus) BroadcastToHospital(t hub.EventType, payload any, hospitalID int64) {
	b.events = append(b.events, emitted{kind: "hospital", event: t, payload: payload, userID: hospitalID})
}

func (b *fakeBus) SendToUser(t hub.EventType, payload any, userID int64) bool {
	b.events = append(b.events, emitted{kind: "user", event: t, payload: payload, userID: userID})
	return b.userOnline
}

func (b *fakeBus) SendToSession(t hub.EventType, payload any, requesterID, consultantID int64) {
	b.events = append(b.events, emitted{kind: "session", event: t, payload: payload, userID: requesterID})
}

func (b *fakeBus) ofType(t hub.EventType) []emitted {
	var out []emitted
	for _, e := range b.events {
		if e.event == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeRooms struct {
	room Room
	err  error
}

func (r *fakeRooms) CreateRoom(context.Context, string) (Room, error) {
	return r.room, r.err
}

func resultFor(id int64, name string, score int, reasons ...string) *match.Result {
	return &match.Result{
		Consultant: match.Consultant{ID: id, Name: name},
		Score:      score,
		Reasons:    reasons,
	}
}

func TestSubmitRequestMatched(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	o := NewOrchestrator(
		&fakeMatcher{results: []*match.Result{resultFor(8, "Dr. Chen", 90, "Department expert (+30)")}},
		store, bus, nil)

	out, err := o.SubmitRequest(context.Background(), SubmitInput{
		StaffID: 7, StaffName: "Nurse Patel", HospitalID: 3, Department: "ICU",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Matched || out.ConsultantID != 8 {
		t.Fatalf("outcome = %+v", out)
	}

	p, ok := store.proposals[out.RequestID]
	if !ok {
		t.Fatal("proposal not persisted")
	}
	if p.ConsultantID != 8 || p.Department != "ICU" {
		t.Fatalf("proposal = %+v", p)
	}

	news := bus.ofType(hub.EventSupportRequestNew)
	if len(news) != 2 {
		t.Fatalf("support_request_new emissions = %d, want 2 (consultant + admins)", len(news))
	}
	if news[0].kind != "user" || news[0].userID != 8 {
		t.Fatalf("first emission = %+v, want targeted to consultant 8", news[0])
	}
	if news[1].kind != "role" || len(news[1].roles) != 1 || news[1].roles[0] != hub.RoleAdmin {
		t.Fatalf("second emission = %+v, want role broadcast to admins", news[1])
	}
	payload := news[0].payload.(hub.SupportRequestNewPayload)
	if payload.StaffName != "Nurse Patel" || payload.RequestID != out.RequestID {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestSubmitRequestQueuedWhenNoMatch(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	o := NewOrchestrator(&fakeMatcher{}, store, bus, nil)

	out, err := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7, Department: "ER"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Matched {
		t.Fatalf("outcome = %+v, want queued", out)
	}
	if out.Position != 1 {
		t.Fatalf("position = %d, want 1", out.Position)
	}
	if len(store.queue) != 1 || store.queue[0].RequestID != out.RequestID {
		t.Fatalf("queue = %+v", store.queue)
	}

	updates := bus.ofType(hub.EventQueuePositionUpdate)
	if len(updates) != 1 || updates[0].userID != 7 {
		t.Fatalf("queue_position_update emissions = %+v", updates)
	}
	if p := updates[0].payload.(hub.QueuePositionUpdatePayload); p.Position != 1 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestAcceptRequestCommits(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	rooms := &fakeRooms{room: Room{URL: "https://rooms.example/r1", RequesterToken: "rt", ConsultantToken: "ct"}}
	o := NewOrchestrator(
		&fakeMatcher{results: []*match.Result{resultFor(8, "Dr. Chen", 50)}},
		store, bus, rooms)

	out, err := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7, Department: "ICU"})
	if err != nil {
		t.Fatal(err)
	}

	sess, err := o.AcceptRequest(context.Background(), out.RequestID, 8)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ConsultantID != 8 || sess.StaffID != 7 || sess.RoomURL != "https://rooms.example/r1" {
		t.Fatalf("session = %+v", sess)
	}
	if store.rotation[8] != 1 {
		t.Fatalf("rotation counter = %d, want 1", store.rotation[8])
	}
	if _, ok := store.sessions[sess.SessionID]; !ok {
		t.Fatal("session not persisted")
	}

	accepted := bus.ofType(hub.EventSupportRequestAccepted)
	if len(accepted) != 1 || accepted[0].kind != "session" {
		t.Fatalf("accepted emissions = %+v", accepted)
	}
	started := bus.ofType(hub.EventSupportSessionStarted)
	if len(started) != 1 {
		t.Fatalf("started emissions = %+v", started)
	}
	if p := started[0].payload.(hub.SupportSessionStartedPayload); p.RoomURL != "https://rooms.example/r1" || p.RequesterToken != "rt" {
		t.Fatalf("started payload = %+v", p)
	}

	// The proposal is consumed; a second accept finds nothing.
	if _, err := o.AcceptRequest(context.Background(), out.RequestID, 8); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("second accept err = %v, want ErrProposalNotFound", err)
	}
}

func TestAcceptRequestWrongConsultant(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	o := NewOrchestrator(
		&fakeMatcher{results: []*match.Result{resultFor(8, "Dr. Chen", 50)}},
		store, bus, nil)

	out, err := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.AcceptRequest(context.Background(), out.RequestID, 99); !errors.Is(err, ErrProposalMismatch) {
		t.Fatalf("err = %v, want ErrProposalMismatch", err)
	}
	if store.rotation[99] != 0 {
		t.Fatal("rotation bumped despite mismatch")
	}
}

func TestAcceptRequestDegradesWithoutRoom(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	o := NewOrchestrator(
		&fakeMatcher{results: []*match.Result{resultFor(8, "Dr. Chen", 50)}},
		store, bus, &fakeRooms{err: errors.New("provisioner down")})

	out, err := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7})
	if err != nil {
		t.Fatal(err)
	}

	sess, err := o.AcceptRequest(context.Background(), out.RequestID, 8)
	if err != nil {
		t.Fatalf("acceptance must survive a room failure, got %v", err)
	}
	if sess.RoomURL != "" {
		t.Fatalf("roomURL = %q, want empty", sess.RoomURL)
	}
	if p := bus.ofType(hub.EventSupportSessionStarted)[0].payload.(hub.SupportSessionStartedPayload); p.RoomURL != "" {
		t.Fatalf("started payload = %+v", p)
	}
}

func TestEndSession(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	o := NewOrchestrator(
		&fakeMatcher{results: []*match.Result{resultFor(8, "Dr. Chen", 50)}},
		store, bus, nil)

	out, _ := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7})
	sess, _ := o.AcceptRequest(context.Background(), out.RequestID, 8)

	if err := o.EndSession(context.Background(), sess.SessionID, 7); err != nil {
		t.Fatal(err)
	}
	ended := bus.ofType(hub.EventSupportSessionEnded)
	if len(ended) != 1 {
		t.Fatalf("ended emissions = %+v", ended)
	}
	if p := ended[0].payload.(hub.SupportSessionEndedPayload); p.EndedBy != 7 {
		t.Fatalf("payload = %+v", p)
	}

	if err := o.EndSession(context.Background(), sess.SessionID, 7); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second end err = %v, want ErrSessionNotFound", err)
	}
}

func TestSetConsultantStatusBroadcastsAndDrains(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	matcher := &fakeMatcher{} // nothing matches yet
	o := NewOrchestrator(matcher, store, bus, nil)

	// A request arrives while nobody is available.
	out, _ := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7, Department: "ICU"})

	// Consultant 8 comes online; the queued request must be re-matched.
	matcher.results = []*match.Result{resultFor(8, "Dr. Chen", 30)}
	if err := o.SetConsultantStatus(context.Background(), 8, true); err != nil {
		t.Fatal(err)
	}
	if !store.available[8] {
		t.Fatal("availability not persisted")
	}

	status := bus.ofType(hub.EventConsultantStatusChanged)
	if len(status) != 1 || len(status[0].roles) != 3 {
		t.Fatalf("status emissions = %+v", status)
	}

	if len(store.queue) != 0 {
		t.Fatalf("queue not drained: %+v", store.queue)
	}
	if _, ok := store.proposals[out.RequestID]; !ok {
		t.Fatal("drained request was not proposed")
	}
}

func TestSetConsultantStatusOfflineDoesNotDrain(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	matcher := &fakeMatcher{}
	o := NewOrchestrator(matcher, store, bus, nil)

	o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7})
	matcher.results = []*match.Result{resultFor(8, "Dr. Chen", 30)}

	if err := o.SetConsultantStatus(context.Background(), 8, false); err != nil {
		t.Fatal(err)
	}
	if len(store.queue) != 1 {
		t.Fatalf("queue drained on offline transition: %+v", store.queue)
	}
}

func TestDrainQueueStopsAtFirstUnmatchable(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{userOnline: true}
	matcher := &fakeMatcher{}
	o := NewOrchestrator(matcher, store, bus, nil)

	first, _ := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 7})
	second, _ := o.SubmitRequest(context.Background(), SubmitInput{StaffID: 9})

	// One consultant worth of capacity: the first drains, the second stays.
	matcher.results = []*match.Result{resultFor(8, "Dr. Chen", 30)}
	o.DrainQueue(context.Background())

	if _, ok := store.proposals[first.RequestID]; !ok {
		t.Fatal("first request not proposed")
	}
	if len(store.queue) != 1 || store.queue[0].RequestID != second.RequestID {
		t.Fatalf("queue = %+v, want only the second request", store.queue)
	}

	// The remaining requester hears its refreshed position.
	updates := bus.ofType(hub.EventQueuePositionUpdate)
	last := updates[len(updates)-1]
	if last.userID != 9 {
		t.Fatalf("last position update = %+v, want staff 9", last)
	}
	if p := last.payload.(hub.QueuePositionUpdatePayload); p.Position != 1 || p.RequestID != second.RequestID {
		t.Fatalf("payload = %+v", p)
	}
}
