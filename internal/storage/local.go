package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/rs/zerolog/log"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// LocalWorkspace implements WorkspaceStore on the local filesystem
type LocalWorkspace struct {
	root string
}

// NewLocalWorkspace creates the storage root and its sessions directory
func NewLocalWorkspace(root string) (*LocalWorkspace, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(abs, SessionsDir), dirPerm); err != nil {
		log.Error().Err(err).Str("path", abs).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", abs).Msg("workspace storage initialized")
	return &LocalWorkspace{root: abs}, nil
}

// Root returns the absolute storage root
func (lw *LocalWorkspace) Root() string {
	return lw.root
}

// SessionPath returns <root>/sessions/<id>
func (lw *LocalWorkspace) SessionPath(sessionID string) string {
	return filepath.Join(lw.root, SessionsDir, sessionID)
}

// LockDir returns <root>/sessions/<id>/metadata/locks
func (lw *LocalWorkspace) LockDir(sessionID string) string {
	return filepath.Join(lw.SessionPath(sessionID), LocksDir)
}

// FilePath resolves relPath under <root>/sessions/<id>/files and rejects escapes
func (lw *LocalWorkspace) FilePath(sessionID, relPath string) (string, error) {
	if err := validSessionID(sessionID); err != nil {
		return "", err
	}
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", common.InvalidInput("resolve path", sessionID, "invalid file path %q", relPath)
	}

	base := filepath.Join(lw.SessionPath(sessionID), FilesDir)
	full := filepath.Join(base, relPath)
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", common.InvalidInput("resolve path", sessionID, "path %q escapes the workspace", relPath)
	}
	return full, nil
}

// Ensure creates every directory of WorkspaceLayout with owner-only permissions
func (lw *LocalWorkspace) Ensure(ctx context.Context, sessionID string) (string, error) {
	if err := validSessionID(sessionID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sessionPath := lw.SessionPath(sessionID)
	for _, dir := range WorkspaceLayout {
		full := filepath.Join(sessionPath, dir)
		if err := os.MkdirAll(full, dirPerm); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Str("path", full).Msg("failed to create workspace directory")
			return "", fmt.Errorf("failed to create workspace directory: %w", err)
		}
		// MkdirAll is subject to the umask
		if err := os.Chmod(full, dirPerm); err != nil {
			return "", fmt.Errorf("failed to restrict workspace directory: %w", err)
		}
	}
	if err := os.Chmod(sessionPath, dirPerm); err != nil {
		return "", fmt.Errorf("failed to restrict workspace directory: %w", err)
	}

	log.Debug().Str("session_id", sessionID).Str("path", sessionPath).Msg("workspace ensured")
	return sessionPath, nil
}

// SessionSize walks the session workspace; a missing workspace has size zero
func (lw *LocalWorkspace) SessionSize(ctx context.Context, sessionID string) (int64, error) {
	if err := validSessionID(sessionID); err != nil {
		return 0, err
	}
	return dirSize(ctx, lw.SessionPath(sessionID))
}

// TotalSize walks the entire storage root
func (lw *LocalWorkspace) TotalSize(ctx context.Context) (int64, error) {
	return dirSize(ctx, lw.root)
}

// RemoveSession deletes the workspace; removing a missing workspace is a no-op
func (lw *LocalWorkspace) RemoveSession(ctx context.Context, sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	startTime := time.Now()
	path := lw.SessionPath(sessionID)
	if err := os.RemoveAll(path); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("path", path).Msg("failed to remove workspace")
		return fmt.Errorf("failed to remove workspace: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("path", path).
		Dur("duration", time.Since(startTime)).
		Msg("workspace removed")
	return nil
}

// ListSessions returns the directory names under <root>/sessions
func (lw *LocalWorkspace) ListSessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(lw.root, SessionsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// WriteMetadata writes metadata/session.json through a temporary file and rename
func (lw *LocalWorkspace) WriteMetadata(ctx context.Context, sessionID string, data []byte) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// the session directory itself is never recreated here
	dir := filepath.Join(lw.SessionPath(sessionID), MetadataDir)
	if err := os.Mkdir(dir, dirPerm); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, MetadataFile+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync metadata: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, filepath.Join(dir, MetadataFile)); err != nil {
		return fmt.Errorf("failed to move metadata into place: %w", err)
	}
	return nil
}

// ReadMetadata returns the contents of metadata/session.json
func (lw *LocalWorkspace) ReadMetadata(ctx context.Context, sessionID string) ([]byte, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(lw.SessionPath(sessionID), MetadataDir, MetadataFile))
}

func dirSize(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// files may vanish while a concurrent write renames or aborts
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compute size of %s: %w", root, err)
	}
	return total, nil
}

func validSessionID(sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) {
		return common.InvalidInput("resolve workspace", sessionID, "invalid session id")
	}
	return nil
}
