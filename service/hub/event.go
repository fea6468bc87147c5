package hub

import (
	"fmt"
	"time"

	decode "CareBridge/tools/decode"
)

// EventType is the closed set of events the hub emits. Clients dispatch on
// the string value, so these are part of the wire contract.
type EventType string

const (
	EventSupportRequestNew        EventType = "support_request_new"
	EventSupportRequestAccepted   EventType = "support_request_accepted"
	EventSupportSessionStarted    EventType = "support_session_started"
	EventSupportSessionEnded      EventType = "support_session_ended"
	EventConsultantStatusChanged  EventType = "consultant_status_changed"
	EventQueuePositionUpdate      EventType = "queue_position_update"
	EventScheduledSessionNew      EventType = "scheduled_session_new"
	EventScheduledSessionUpdated  EventType = "scheduled_session_updated"
	EventScheduledSessionReminder EventType = "scheduled_session_reminder"
)

// Role of an authenticated connection.
type Role string

const (
	RoleAdmin              Role = "admin"
	RoleConsultant         Role = "consultant"
	RoleHospitalStaff      Role = "hospital_staff"
	RoleHospitalLeadership Role = "hospital_leadership"
)

// Event is the hub -> client envelope. Timestamp is ISO-8601.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp string    `json:"timestamp"`
}

func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Frame is the client -> hub envelope. Only "authenticate" is interpreted;
// every other type is ignored for forward compatibility.
type Frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

const FrameAuthenticate = "authenticate"

// AuthPayload is the payload of an authenticate control frame. The hub
// trusts it as-is; credential checking happens at transport establishment.
type AuthPayload struct {
	UserID     int64 `json:"userId"`
	Role       Role  `json:"role"`
	HospitalID int64 `json:"hospitalId,omitempty"`
}

// ---- typed event payloads ----
//
// One payload shape per event type; resolved from the untyped wire payload
// at the deserialization boundary via DecodePayload.

type SupportRequestNewPayload struct {
	RequestID    string   `json:"requestId"`
	StaffID      int64    `json:"staffId"`
	StaffName    string   `json:"staffName,omitempty"`
	HospitalID   int64    `json:"hospitalId"`
	Department   string   `json:"department"`
	ConsultantID int64    `json:"consultantId"`
	Reasons      []string `json:"reasons,omitempty"`
}

type SupportRequestAcceptedPayload struct {
	RequestID      string `json:"requestId"`
	SessionID      string `json:"sessionId"`
	ConsultantID   int64  `json:"consultantId"`
	ConsultantName string `json:"consultantName,omitempty"`
}

type SupportSessionStartedPayload struct {
	SessionID       string `json:"sessionId"`
	RoomURL         string `json:"roomUrl"`
	RequesterToken  string `json:"requesterToken,omitempty"`
	ConsultantToken string `json:"consultantToken,omitempty"`
}

type SupportSessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	EndedBy   int64  `json:"endedBy,omitempty"`
}

type ConsultantStatusChangedPayload struct {
	ConsultantID int64 `json:"consultantId"`
	Available    bool  `json:"available"`
}

type QueuePositionUpdatePayload struct {
	RequestID string `json:"requestId"`
	Position  int    `json:"position"`
}

type ScheduledSessionPayload struct {
	SessionID    string `json:"sessionId"`
	StaffID      int64  `json:"staffId"`
	ConsultantID int64  `json:"consultantId"`
	StartsAt     string `json:"startsAt"`
	Topic        string `json:"topic,omitempty"`
}

// DecodePayload resolves an untyped wire payload into the typed shape for
// its event type.
func DecodePayload(t EventType, m map[string]any) (any, error) {
	switch t {
	case EventSupportRequestNew:
		return decode.Map[SupportRequestNewPayload](m)
	case EventSupportRequestAccepted:
		return decode.Map[SupportRequestAcceptedPayload](m)
	case EventSupportSessionStarted:
		return decode.Map[SupportSessionStartedPayload](m)
	case EventSupportSessionEnded:
		return decode.Map[SupportSessionEndedPayload](m)
	case EventConsultantStatusChanged:
		return decode.Map[ConsultantStatusChangedPayload](m)
	case EventQueuePositionUpdate:
		return decode.Map[QueuePositionUpdatePayload](m)
	case EventScheduledSessionNew, EventScheduledSessionUpdated, EventScheduledSessionReminder:
		return decode.Map[ScheduledSessionPayload](m)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
