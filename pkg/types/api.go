package types

import "time"

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorDetail is the body of an error envelope
type ErrorDetail struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse wraps every non-2xx body
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	UserPreferences *UserPreferences `json:"user_preferences"`
}

// SessionResponse describes a session to API clients
type SessionResponse struct {
	SessionID   string          `json:"session_id"`
	State       WorkflowState   `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUpdated time.Time       `json:"last_updated"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Preferences UserPreferences `json:"user_preferences"`
}

// NewSessionResponse builds the API view of a session
func NewSessionResponse(s Session) SessionResponse {
	return SessionResponse{
		SessionID:   s.ID,
		State:       s.State,
		CreatedAt:   s.CreatedAt,
		LastUpdated: s.LastUpdated,
		ExpiresAt:   s.ExpiresAt,
		Preferences: s.Preferences,
	}
}

// ProcessRequest is the body of POST /sessions/:id/process
type ProcessRequest struct {
	ProcessingOptions map[string]interface{} `json:"processing_options"`
}

// ProcessResponse acknowledges an accepted processing request
type ProcessResponse struct {
	TaskID    string               `json:"task_id"`
	SessionID string               `json:"session_id"`
	Status    ProcessingStatusType `json:"status"`
	Message   string               `json:"message"`
}

// StatusResponse reports the workflow and processing state of a session
type StatusResponse struct {
	SessionID string        `json:"session_id"`
	State     WorkflowState `json:"state"`
	Data      SessionData   `json:"data"`
}

// AudioUploadResponse describes a stored upload
type AudioUploadResponse struct {
	SessionID string         `json:"session_id"`
	FileName  string         `json:"file_name"`
	SizeMB    float64        `json:"file_size_mb"`
	MimeType  string         `json:"mime_type"`
	Recording AudioRecording `json:"recording"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	ActiveSessions int       `json:"active_sessions"`
}
