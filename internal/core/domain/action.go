package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownActionKind is returned when decoding an envelope whose kind is not registered.
var ErrUnknownActionKind = errors.New("unknown action kind")

// ActionKind identifies the variant of an Action.
type ActionKind string

const (
	KindTriggerEmergencyAlert ActionKind = "trigger_emergency_alert"
	KindCancelEmergencyAlert  ActionKind = "cancel_emergency_alert"
	KindUpdateCheckIn         ActionKind = "update_check_in"
	KindAddContact            ActionKind = "add_contact"
	KindUpdateContact         ActionKind = "update_contact"
	KindRemoveContact         ActionKind = "remove_contact"
	KindSendNotification      ActionKind = "send_notification"
	KindUploadMedia           ActionKind = "upload_media"
	KindMarkNotificationRead  ActionKind = "mark_notification_read"
)

// Action is one client-originated mutation destined for the backend.
// Implementations are plain value structs and must not be mutated after creation.
type Action interface {
	Kind() ActionKind
}

// KindInfo holds the attributes that are fixed per action kind.
type KindInfo struct {
	Priority    int
	Retryable   bool
	MaxAttempts int
}

// kindInfos maps every known kind to its attributes.
// Higher priority executes first.
var kindInfos = map[ActionKind]KindInfo{
	KindTriggerEmergencyAlert: {Priority: 100, Retryable: true, MaxAttempts: 10},
	KindCancelEmergencyAlert:  {Priority: 95, Retryable: true, MaxAttempts: 10},
	KindUpdateCheckIn:         {Priority: 70, Retryable: true, MaxAttempts: 5},
	KindAddContact:            {Priority: 50, Retryable: true, MaxAttempts: 5},
	KindUpdateContact:         {Priority: 50, Retryable: true, MaxAttempts: 5},
	KindRemoveContact:         {Priority: 50, Retryable: true, MaxAttempts: 5},
	KindSendNotification:      {Priority: 40, Retryable: true, MaxAttempts: 5},
	KindUploadMedia:           {Priority: 30, Retryable: false, MaxAttempts: 1},
	KindMarkNotificationRead:  {Priority: 10, Retryable: true, MaxAttempts: 3},
}

// Info returns the fixed attributes of the kind. Unknown kinds get the lowest
// priority and a single attempt.
func (k ActionKind) Info() KindInfo {
	if s, ok := kindInfos[k]; ok {
		return s
	}
	return KindInfo{Priority: 0, Retryable: false, MaxAttempts: 1}
}

// Priority returns the dequeue priority of the kind.
func (k ActionKind) Priority() int { return k.Info().Priority }

// IsRetryable reports whether repeating the action is safe.
func (k ActionKind) IsRetryable() bool { return k.Info().Retryable }

// MaxAttempts returns the per-kind attempt ceiling.
func (k ActionKind) MaxAttempts() int { return k.Info().MaxAttempts }

// IsKnown reports whether the kind is registered.
func (k ActionKind) IsKnown() bool {
	_, ok := kindInfos[k]
	return ok
}

// -----------------------------------------------------------------------------
// Variants
// -----------------------------------------------------------------------------

// Location is an optional position attached to alerts and check-ins.
type Location struct {
	Latitude  float64 `json:"latitude"  validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"gte=0"`
}

type TriggerEmergencyAlert struct {
	AlertID    string    `json:"alert_id"   validate:"required"`
	Message    string    `json:"message"    validate:"max=1000"`
	Location   *Location `json:"location,omitempty"`
	RaisedAt   time.Time `json:"raised_at"  validate:"required"`
	ContactIDs []string  `json:"contact_ids,omitempty" validate:"dive,required"`
}

func (TriggerEmergencyAlert) Kind() ActionKind { return KindTriggerEmergencyAlert }

type CancelEmergencyAlert struct {
	AlertID string `json:"alert_id" validate:"required"`
	Reason  string `json:"reason"   validate:"max=500"`
}

func (CancelEmergencyAlert) Kind() ActionKind { return KindCancelEmergencyAlert }

type UpdateCheckIn struct {
	CheckInID string    `json:"check_in_id" validate:"required"`
	Status    string    `json:"status"      validate:"required,oneof=ok late missed"`
	Location  *Location `json:"location,omitempty"`
	At        time.Time `json:"at"          validate:"required"`
}

func (UpdateCheckIn) Kind() ActionKind { return KindUpdateCheckIn }

type AddContact struct {
	ContactID string `json:"contact_id" validate:"required"`
	Name      string `json:"name"       validate:"required,max=200"`
	Phone     string `json:"phone"      validate:"omitempty,e164"`
	Email     string `json:"email"      validate:"omitempty,email"`
}

func (AddContact) Kind() ActionKind { return KindAddContact }

type UpdateContact struct {
	ContactID string `json:"contact_id" validate:"required"`
	Name      string `json:"name"       validate:"omitempty,max=200"`
	Phone     string `json:"phone"      validate:"omitempty,e164"`
	Email     string `json:"email"      validate:"omitempty,email"`
}

func (UpdateContact) Kind() ActionKind { return KindUpdateContact }

type RemoveContact struct {
	ContactID string `json:"contact_id" validate:"required"`
}

func (RemoveContact) Kind() ActionKind { return KindRemoveContact }

type SendNotification struct {
	NotificationID string `json:"notification_id" validate:"required"`
	RecipientID    string `json:"recipient_id"    validate:"required"`
	Title          string `json:"title"           validate:"required,max=200"`
	Body           string `json:"body"            validate:"max=4000"`
}

func (SendNotification) Kind() ActionKind { return KindSendNotification }

type UploadMedia struct {
	MediaID     string `json:"media_id"     validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
	SizeBytes   int64  `json:"size_bytes"   validate:"gt=0"`
	LocalPath   string `json:"local_path"   validate:"required"`
}

func (UploadMedia) Kind() ActionKind { return KindUploadMedia }

type MarkNotificationRead struct {
	NotificationID string `json:"notification_id" validate:"required"`
}

func (MarkNotificationRead) Kind() ActionKind { return KindMarkNotificationRead }

// -----------------------------------------------------------------------------
// Envelope
// -----------------------------------------------------------------------------

// ActionEnvelope is the serialized form of an Action.
type ActionEnvelope struct {
	Kind    ActionKind      `json:"kind"    validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// NewAction returns a zero value of the variant registered for kind.
func NewAction(kind ActionKind) (Action, error) {
	switch kind {
	case KindTriggerEmergencyAlert:
		return &TriggerEmergencyAlert{}, nil
	case KindCancelEmergencyAlert:
		return &CancelEmergencyAlert{}, nil
	case KindUpdateCheckIn:
		return &UpdateCheckIn{}, nil
	case KindAddContact:
		return &AddContact{}, nil
	case KindUpdateContact:
		return &UpdateContact{}, nil
	case KindRemoveContact:
		return &RemoveContact{}, nil
	case KindSendNotification:
		return &SendNotification{}, nil
	case KindUploadMedia:
		return &UploadMedia{}, nil
	case KindMarkNotificationRead:
		return &MarkNotificationRead{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
	}
}

// EncodeAction wraps an action into its envelope.
func EncodeAction(a Action) (ActionEnvelope, error) {
	if a == nil {
		return ActionEnvelope{}, errors.New("nil action")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return ActionEnvelope{}, fmt.Errorf("failed to marshal action %s: %w", a.Kind(), err)
	}
	return ActionEnvelope{Kind: a.Kind(), Payload: payload}, nil
}

// DecodeAction rebuilds the action stored in an envelope.
// The returned value is the pointer form of the variant.
func DecodeAction(env ActionEnvelope) (Action, error) {
	a, err := NewAction(env.Kind)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
		}
	}
	return a, nil
}
