package storage

import (
	"context"
)

// Fixed subtree provisioned for every session, relative to the session directory
var WorkspaceLayout = []string{
	MetadataDir,
	LocksDir,
	"files/audio/original",
	"files/audio/processed",
	"files/pdfs",
	"files/generated/scripts",
	"files/generated/audio",
	"temp",
	"logs",
}

// FileCategories are the directories under files/ that accept uploads
var FileCategories = []string{
	"audio/original",
	"audio/processed",
	"pdfs",
	"generated/scripts",
	"generated/audio",
}

// IsFileCategory reports whether category names one of FileCategories
func IsFileCategory(category string) bool {
	for _, c := range FileCategories {
		if c == category {
			return true
		}
	}
	return false
}

const (
	// SessionsDir holds one directory per session under the storage root
	SessionsDir = "sessions"
	// FilesDir is the parent of every user-visible file in a workspace
	FilesDir = "files"
	// MetadataDir holds the session record
	MetadataDir = "metadata"
	// LocksDir holds the lock files of the file lock broker
	LocksDir = "metadata/locks"
	// MetadataFile is the name of the persisted session record
	MetadataFile = "session.json"
)

// WorkspaceStore defines the filesystem layout of session workspaces
type WorkspaceStore interface {
	// Root returns the storage root
	Root() string

	// SessionPath returns the workspace directory of a session
	SessionPath(sessionID string) string

	// FilePath resolves a path relative to the session's files directory
	FilePath(sessionID, relPath string) (string, error)

	// LockDir returns the directory holding the session's lock files
	LockDir(sessionID string) string

	// Ensure creates the workspace subtree; existing directories are left alone
	Ensure(ctx context.Context, sessionID string) (string, error)

	// SessionSize returns the recursive byte size of a session's workspace
	SessionSize(ctx context.Context, sessionID string) (int64, error)

	// TotalSize returns the recursive byte size of the whole storage root
	TotalSize(ctx context.Context) (int64, error)

	// RemoveSession deletes a session's workspace recursively
	RemoveSession(ctx context.Context, sessionID string) error

	// ListSessions returns the ids of every workspace on disk
	ListSessions(ctx context.Context) ([]string, error)

	// WriteMetadata atomically replaces the session record
	WriteMetadata(ctx context.Context, sessionID string, data []byte) error

	// ReadMetadata returns the raw session record
	ReadMetadata(ctx context.Context, sessionID string) ([]byte, error)
}
