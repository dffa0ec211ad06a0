package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"path/filepath"
	"strings"
)

// ComputeSHA256 computes the SHA256 hash of data
func ComputeSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Checksum accumulates a SHA256 digest of everything written to it
type Checksum struct {
	h hash.Hash
}

// NewChecksum returns an empty SHA256 accumulator
func NewChecksum() *Checksum {
	return &Checksum{h: sha256.New()}
}

func (c *Checksum) Write(p []byte) (int, error) {
	return c.h.Write(p)
}

// Sum returns the hex digest of the bytes written so far
func (c *Checksum) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// SanitizeFileName reduces a client-supplied name to a safe single path element.
// It returns an empty string when nothing usable remains.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

// Extension returns the lower-cased extension of name, including the dot
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// FormatBytes formats byte size in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	suffixes := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp])
}
