// Package audio admits uploaded recordings into a session workspace.
package audio

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/pkg/types"
	"github.com/lgulliver/cliniprompt/pkg/utils"
)

// DefaultMaxSize is the upload ceiling for one recording
const DefaultMaxSize = 30 * 1024 * 1024

// OctetStream is accepted only together with an allowed extension
const OctetStream = "application/octet-stream"

var (
	AllowedMimeTypes = []string{
		"audio/mp3",
		"audio/mpeg",
		"audio/wav",
		"audio/m4a",
		"audio/mp4",
		"audio/ogg",
		OctetStream,
	}
	AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".mp4", ".ogg"}
)

// sniffed names that mimetype reports for the allowed formats
var detectedAliases = map[string]string{
	"audio/x-wav":  "audio/wav",
	"audio/wave":   "audio/wav",
	"audio/x-m4a":  "audio/m4a",
	"audio/x-mp3":  "audio/mp3",
	"audio/x-ogg":  "audio/ogg",
	"video/mp4":    "audio/mp4",
	"audio/x-mpeg": "audio/mpeg",
}

// Validator checks upload metadata before any byte is stored
type Validator struct {
	maxSize int64
}

// NewValidator creates a validator; a non-positive maxSize uses DefaultMaxSize
func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Validator{maxSize: maxSize}
}

// MaxSize returns the upload ceiling
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate rejects a disallowed type or extension, or a declared size above
// the ceiling. size may be negative when unknown.
func (v *Validator) Validate(sessionID, filename, mimeType string, size int64) error {
	const op = "validate audio"

	if size > v.maxSize {
		return common.InvalidInput(op, sessionID, "file too large: %s exceeds %s",
			utils.FormatBytes(size), utils.FormatBytes(v.maxSize))
	}

	mimeType = BaseMIME(mimeType)
	if !contains(AllowedMimeTypes, mimeType) {
		return common.InvalidInput(op, sessionID, "unsupported file type %q", mimeType)
	}

	ext := utils.Extension(filename)
	if mimeType == OctetStream && !contains(AllowedExtensions, ext) {
		return common.InvalidInput(op, sessionID, "unsupported file extension %q for %s", ext, OctetStream)
	}
	if ext != "" && !contains(AllowedExtensions, ext) {
		return common.InvalidInput(op, sessionID, "unsupported file extension %q", ext)
	}
	return nil
}

// Detect sniffs the leading bytes of a recording. It returns the allowed
// type matching the content, or "" when the content is not recognised.
func Detect(head []byte) string {
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		name := BaseMIME(m.String())
		if alias, ok := detectedAliases[name]; ok {
			name = alias
		}
		if name != OctetStream && contains(AllowedMimeTypes, name) {
			return name
		}
	}
	return ""
}

// BaseMIME strips parameters and normalises case
func BaseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// NewRecording describes a stored upload in its initial state
func NewRecording(filename, mimeType string, size int64, path string, now time.Time) *types.AudioRecording {
	return &types.AudioRecording{
		FileName:        filename,
		FileSizeBytes:   size,
		MimeType:        mimeType,
		UploadTimestamp: now,
		Status:          types.AudioUploaded,
		TemporaryPath:   path,
	}
}

// Describe summarises a recording for logs and errors
func Describe(rec *types.AudioRecording) string {
	return fmt.Sprintf("%s (%.2f MB, %s)", rec.FileName, rec.FileSizeMB(), rec.MimeType)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
