package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// WorkflowState is the lifecycle state of a tutorial session
type WorkflowState string

const (
	StateInitial       WorkflowState = "INITIAL"
	StateAudioUploaded WorkflowState = "AUDIO_UPLOADED"
	StateContentAdded  WorkflowState = "CONTENT_ADDED"
	StateProcessing    WorkflowState = "PROCESSING"
	StateCompleted     WorkflowState = "COMPLETED"
	StateError         WorkflowState = "ERROR"
)

// AllStates lists every workflow state in lifecycle order
var AllStates = []WorkflowState{
	StateInitial,
	StateAudioUploaded,
	StateContentAdded,
	StateProcessing,
	StateCompleted,
	StateError,
}

// ParseWorkflowState converts a wire value into a WorkflowState
func ParseWorkflowState(s string) (WorkflowState, error) {
	for _, state := range AllStates {
		if string(state) == s {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown workflow state: %q", s)
}

// Voice and summary style choices accepted in preferences
const (
	DefaultVoice        = "professional_female"
	DefaultSummaryStyle = "conversational"
)

var (
	AllowedVoices        = []string{"professional_female", "professional_male", "conversational_female", "conversational_male"}
	AllowedSummaryStyles = []string{"conversational", "technical", "basic"}
)

// UserPreferences holds the user's choices for tutorial processing
type UserPreferences struct {
	PreferredVoice    string            `json:"preferred_voice"`
	SummaryStyle      string            `json:"summary_style"`
	EmphasisAreas     []string          `json:"emphasis_areas"`
	CustomTerminology map[string]string `json:"custom_terminology"`
}

// DefaultPreferences returns preferences with the default voice and style
func DefaultPreferences() UserPreferences {
	return UserPreferences{
		PreferredVoice:    DefaultVoice,
		SummaryStyle:      DefaultSummaryStyle,
		EmphasisAreas:     []string{},
		CustomTerminology: map[string]string{},
	}
}

// WithDefaults fills empty fields from DefaultPreferences
func (p UserPreferences) WithDefaults() UserPreferences {
	if p.PreferredVoice == "" {
		p.PreferredVoice = DefaultVoice
	}
	if p.SummaryStyle == "" {
		p.SummaryStyle = DefaultSummaryStyle
	}
	if p.EmphasisAreas == nil {
		p.EmphasisAreas = []string{}
	}
	if p.CustomTerminology == nil {
		p.CustomTerminology = map[string]string{}
	}
	return p
}

// Validate checks the voice and summary style against the allowed values
func (p UserPreferences) Validate() error {
	if !contains(AllowedVoices, p.PreferredVoice) {
		return fmt.Errorf("invalid voice %q, must be one of %v", p.PreferredVoice, AllowedVoices)
	}
	if !contains(AllowedSummaryStyles, p.SummaryStyle) {
		return fmt.Errorf("invalid summary style %q, must be one of %v", p.SummaryStyle, AllowedSummaryStyles)
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias registry state
func (p UserPreferences) Clone() UserPreferences {
	out := p
	out.EmphasisAreas = append([]string(nil), p.EmphasisAreas...)
	out.CustomTerminology = make(map[string]string, len(p.CustomTerminology))
	for k, v := range p.CustomTerminology {
		out.CustomTerminology[k] = v
	}
	return out
}

// Session is a bounded-lifetime unit of work that owns one workspace
type Session struct {
	ID            string          `json:"session_id"`
	State         WorkflowState   `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdated   time.Time       `json:"last_updated"`
	ExpiresAt     time.Time       `json:"expires_at"`
	UserAgent     string          `json:"user_agent"`
	Preferences   UserPreferences `json:"preferences"`
	WorkspacePath string          `json:"-"`
}

// IsExpired reports whether the session deadline has passed at now
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy of the session
func (s *Session) Clone() Session {
	out := *s
	out.Preferences = s.Preferences.Clone()
	return out
}

// SessionEvent is one row of the write-only session journal
type SessionEvent struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey"`
	SessionID  string    `json:"session_id" gorm:"index;not null"`
	Kind       string    `json:"kind" gorm:"not null"` // created, transitioned, ended, expired, evicted, teardown
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Detail     JSONMap   `json:"detail" gorm:"serializer:json"`
	OccurredAt time.Time `json:"occurred_at" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the event ID
func (e *SessionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	return nil
}

// Session event kinds
const (
	EventCreated      = "created"
	EventTransitioned = "transitioned"
	EventEnded        = "ended"
	EventExpired      = "expired"
	EventEvicted      = "evicted"
	EventTeardown     = "teardown"
)

// StorageUsage reports byte usage against the configured ceilings
type StorageUsage struct {
	SessionBytes int64 `json:"session_bytes"`
	SessionQuota int64 `json:"session_quota"`
	GlobalBytes  int64 `json:"global_bytes"`
	GlobalQuota  int64 `json:"global_quota"`
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
