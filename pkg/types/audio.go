package types

import (
	"os"
	"time"
)

// AudioStatus is the processing status of an uploaded recording
type AudioStatus string

const (
	AudioUploaded     AudioStatus = "uploaded"
	AudioTranscribing AudioStatus = "transcribing"
	AudioTranscribed  AudioStatus = "transcribed"
	AudioAnalyzing    AudioStatus = "analyzing"
	AudioProcessed    AudioStatus = "processed"
	AudioError        AudioStatus = "error"
)

// QualityMetrics describes the measured quality of a recording
type QualityMetrics struct {
	SignalToNoiseRatio *float64 `json:"signal_to_noise_ratio"`
	SpeechPercentage   *float64 `json:"speech_percentage"`
	ClarityScore       *float64 `json:"clarity_score"`
	EstimatedSpeakers  int      `json:"estimated_speakers"`
}

// AudioRecording describes one uploaded media file owned by a session
type AudioRecording struct {
	FileName          string         `json:"file_name"`
	FileSizeBytes     int64          `json:"file_size_bytes"`
	MimeType          string         `json:"mime_type"`
	Checksum          string         `json:"checksum_sha256,omitempty"`
	UploadTimestamp   time.Time      `json:"upload_timestamp"`
	Status            AudioStatus    `json:"processing_status"`
	TemporaryPath     string         `json:"-"`
	DurationSeconds   *float64       `json:"duration_seconds"`
	QualityMetrics    QualityMetrics `json:"quality_metrics"`
	TranscriptionText string         `json:"transcription_text,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
}

// FileSizeMB returns the size in MiB rounded to two decimals
func (a *AudioRecording) FileSizeMB() float64 {
	mb := float64(a.FileSizeBytes) / (1024 * 1024)
	return float64(int64(mb*100+0.5)) / 100
}

// UpdateStatus sets the status and, for AudioError, the message
func (a *AudioRecording) UpdateStatus(status AudioStatus, errorMessage string) {
	a.Status = status
	if errorMessage != "" {
		a.ErrorMessage = errorMessage
	}
}

// SetTranscription stores the transcript and marks the recording transcribed
func (a *AudioRecording) SetTranscription(text string) {
	a.TranscriptionText = text
	a.Status = AudioTranscribed
}

// IsValidForProcessing requires an acceptable status, a non-empty file and the file on disk
func (a *AudioRecording) IsValidForProcessing() bool {
	if a.Status != AudioUploaded && a.Status != AudioProcessed {
		return false
	}
	if a.FileSizeBytes <= 0 || a.TemporaryPath == "" {
		return false
	}
	_, err := os.Stat(a.TemporaryPath)
	return err == nil
}

// Cleanup removes the backing file; a missing file is not an error
func (a *AudioRecording) Cleanup() error {
	if a.TemporaryPath == "" {
		return nil
	}
	if err := os.Remove(a.TemporaryPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
