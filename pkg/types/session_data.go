package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxErrorLogEntries bounds the retained error log
	MaxErrorLogEntries = 50
	// VisibleErrorLogEntries is how many recent errors a snapshot exposes
	VisibleErrorLogEntries = 10
)

// ProcessingStatusType is the status of a processing task
type ProcessingStatusType string

const (
	ProcessingPending   ProcessingStatusType = "pending"
	ProcessingActive    ProcessingStatusType = "processing"
	ProcessingCompleted ProcessingStatusType = "completed"
	ProcessingError     ProcessingStatusType = "error"
)

// ProcessingStatus tracks the single active processing task of a session
type ProcessingStatus struct {
	TaskID                string               `json:"task_id"`
	Status                ProcessingStatusType `json:"status"`
	Progress              int                  `json:"progress"`
	CurrentStep           string               `json:"current_step"`
	StartTime             time.Time            `json:"start_time"`
	EstimatedCompletion   *time.Time           `json:"estimated_completion"`
	ProcessingTimeSeconds *int64               `json:"processing_time_seconds"`
	ErrorMessage          string               `json:"error,omitempty"`
}

// NewProcessingStatus creates a pending task with a fresh task id
func NewProcessingStatus(currentStep string) *ProcessingStatus {
	if currentStep == "" {
		currentStep = "Initializing..."
	}
	return &ProcessingStatus{
		TaskID:      uuid.New().String(),
		Status:      ProcessingPending,
		CurrentStep: currentStep,
		StartTime:   time.Now(),
	}
}

// UpdateProgress clamps progress to 0-100 and completes the task at 100
func (p *ProcessingStatus) UpdateProgress(progress int, currentStep string) {
	p.Progress = clampPercent(progress)
	p.CurrentStep = currentStep

	if progress >= 100 {
		p.Status = ProcessingCompleted
		p.freezeElapsed()
	}
}

// MarkError fails the task and freezes its elapsed time
func (p *ProcessingStatus) MarkError(message string) {
	p.Status = ProcessingError
	p.ErrorMessage = message
	p.freezeElapsed()
}

// MarkProcessing moves the task to the active status
func (p *ProcessingStatus) MarkProcessing() {
	p.Status = ProcessingActive
}

func (p *ProcessingStatus) freezeElapsed() {
	if p.ProcessingTimeSeconds != nil {
		return
	}
	elapsed := int64(time.Since(p.StartTime).Seconds())
	p.ProcessingTimeSeconds = &elapsed
}

// Clone returns a deep copy of the status
func (p *ProcessingStatus) Clone() *ProcessingStatus {
	if p == nil {
		return nil
	}
	out := *p
	if p.EstimatedCompletion != nil {
		t := *p.EstimatedCompletion
		out.EstimatedCompletion = &t
	}
	if p.ProcessingTimeSeconds != nil {
		v := *p.ProcessingTimeSeconds
		out.ProcessingTimeSeconds = &v
	}
	return &out
}

// ResourceUsage holds last-write-wins resource gauges
type ResourceUsage struct {
	MemoryUsageMB         float64 `json:"memory_usage_mb"`
	StorageUsageMB        float64 `json:"storage_usage_mb"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// SessionData is ephemeral progress attached to a session; it is never persisted
type SessionData struct {
	CurrentStep        string            `json:"current_step"`
	ProgressPercentage int               `json:"progress_percentage"`
	ErrorLog           []string          `json:"error_log"`
	ProcessingStatus   *ProcessingStatus `json:"processing_status"`
	ResourceUsage      ResourceUsage     `json:"resource_usage"`
}

// NewSessionData returns the initial progress record for a session
func NewSessionData() *SessionData {
	return &SessionData{
		CurrentStep: "Session initialized",
		ErrorLog:    []string{},
	}
}

// AddError appends a timestamped entry, keeping only the newest MaxErrorLogEntries
func (d *SessionData) AddError(message string) {
	entry := fmt.Sprintf("[%s] %s", time.Now().Format(time.RFC3339Nano), message)
	d.ErrorLog = append(d.ErrorLog, entry)
	if n := len(d.ErrorLog); n > MaxErrorLogEntries {
		d.ErrorLog = append([]string(nil), d.ErrorLog[n-MaxErrorLogEntries:]...)
	}
}

// UpdateProgress sets overall progress and forwards it to the active task
func (d *SessionData) UpdateProgress(progress int, step string) {
	d.ProgressPercentage = clampPercent(progress)
	d.CurrentStep = step

	if d.ProcessingStatus != nil {
		d.ProcessingStatus.UpdateProgress(progress, step)
	}
}

// StartProcessing supersedes any previous task with a new active one
func (d *SessionData) StartProcessing(initialStep string) *ProcessingStatus {
	if initialStep == "" {
		initialStep = "Starting processing..."
	}
	d.ProcessingStatus = NewProcessingStatus(initialStep)
	d.ProcessingStatus.MarkProcessing()
	d.CurrentStep = initialStep
	d.ProgressPercentage = 0
	return d.ProcessingStatus
}

// CompleteProcessing finishes the active task
func (d *SessionData) CompleteProcessing() {
	if d.ProcessingStatus != nil {
		d.ProcessingStatus.UpdateProgress(100, "Processing completed")
	}
	d.ProgressPercentage = 100
	d.CurrentStep = "Completed"
}

// FailProcessing marks the active task failed and logs the error
func (d *SessionData) FailProcessing(message string) {
	if d.ProcessingStatus != nil {
		d.ProcessingStatus.MarkError(message)
	}
	d.AddError(message)
	d.CurrentStep = "Error: " + message
}

// UpdateResourceUsage overwrites the gauges that are non-nil
func (d *SessionData) UpdateResourceUsage(memoryMB, storageMB, processingTime *float64) {
	if memoryMB != nil {
		d.ResourceUsage.MemoryUsageMB = *memoryMB
	}
	if storageMB != nil {
		d.ResourceUsage.StorageUsageMB = *storageMB
	}
	if processingTime != nil {
		d.ResourceUsage.ProcessingTimeSeconds = *processingTime
	}
}

// Snapshot returns a copy exposing only the most recent errors
func (d *SessionData) Snapshot() SessionData {
	out := *d
	start := 0
	if n := len(d.ErrorLog); n > VisibleErrorLogEntries {
		start = n - VisibleErrorLogEntries
	}
	out.ErrorLog = append([]string{}, d.ErrorLog[start:]...)
	out.ProcessingStatus = d.ProcessingStatus.Clone()
	return out
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
