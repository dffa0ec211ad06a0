package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/lock"
	"github.com/lgulliver/cliniprompt/internal/quota"
	"github.com/lgulliver/cliniprompt/internal/storage"
	"github.com/lgulliver/cliniprompt/pkg/utils"
	"github.com/rs/zerolog/log"
)

// DefaultChunkSize is the unit of every read and write
const DefaultChunkSize = 1024 * 1024

// UnknownSize marks a body whose length is not known up front
const UnknownSize int64 = -1

// Engine moves file contents in and out of workspaces in fixed-size chunks
type Engine struct {
	store     storage.WorkspaceStore
	locks     *lock.Broker
	quota     *quota.Enforcer
	chunkSize int
}

// NewEngine creates an engine; a non-positive chunk size uses DefaultChunkSize
func NewEngine(store storage.WorkspaceStore, locks *lock.Broker, enforcer *quota.Enforcer, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{
		store:     store,
		locks:     locks,
		quota:     enforcer,
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the transfer unit in bytes
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// SaveResult describes a completed write
type SaveResult struct {
	Path         string
	RelPath      string
	BytesWritten int64
	Checksum     string // hex SHA256 of the stored content
	Duration     time.Duration
}

// Save streams body into files/<category>/<filename>.
//
// size is the declared body length, or UnknownSize. A known size is checked
// against both ceilings before any byte is written. Whatever the declared
// size, the write aborts as soon as the session would exceed its own
// ceiling. The destination is replaced atomically while its lock is held,
// and partial data never survives a failed call.
func (e *Engine) Save(ctx context.Context, sessionID string, body io.Reader, size int64, category, filename string) (*SaveResult, error) {
	const op = "save file"
	startTime := time.Now()

	if !storage.IsFileCategory(category) {
		return nil, common.InvalidInput(op, sessionID, "unknown file category %q", category)
	}
	if filename == "" || filename == "." || filename == ".." || strings.ContainsAny(filename, `/\`) {
		return nil, common.InvalidInput(op, sessionID, "invalid file name %q", filename)
	}

	relPath := filepath.Join(category, filename)
	dest, err := e.store.FilePath(sessionID, relPath)
	if err != nil {
		return nil, err
	}

	// the destination's current bytes are released by the rename
	precheck := size - existingSize(dest)
	if precheck < 0 {
		precheck = 0
	}
	if err := e.quota.Admit(ctx, sessionID, precheck); err != nil {
		return nil, err
	}

	lease, err := e.locks.Acquire(ctx, sessionID, e.store.LockDir(sessionID), dest)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	budget, err := e.quota.SessionRemaining(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	budget += existingSize(dest)

	written, checksum, err := e.writeAtomic(ctx, sessionID, dest, body, budget)
	if err != nil {
		return nil, err
	}

	duration := time.Since(startTime)
	log.Info().
		Str("session_id", sessionID).
		Str("path", relPath).
		Int64("bytes_written", written).
		Dur("duration", duration).
		Msg("file stored successfully")

	return &SaveResult{Path: dest, RelPath: relPath, BytesWritten: written, Checksum: checksum, Duration: duration}, nil
}

func (e *Engine) writeAtomic(ctx context.Context, sessionID, dest string, body io.Reader, budget int64) (int64, string, error) {
	const op = "save file"
	dir := filepath.Dir(dest)
	// category directories are provisioned with the workspace; a missing one
	// means the workspace was removed and must not be recreated here
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		return 0, "", common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("workspace directory unavailable: %w", err))
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part.*")
	if err != nil {
		return 0, "", common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("failed to create temporary file: %w", err))
	}
	tempPath := tempFile.Name()

	// Ensure cleanup of temp file on failure
	committed := false
	defer func() {
		tempFile.Close()
		if !committed {
			if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Error().Err(err).Str("session_id", sessionID).Str("path", tempPath).Msg("failed to remove partial file")
			}
		}
	}()

	checksum := utils.NewChecksum()
	out := io.MultiWriter(tempFile, checksum)
	buf := make([]byte, e.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, "", common.Canceled(op, sessionID, err)
		}

		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if written+int64(n) > budget {
				log.Warn().
					Str("session_id", sessionID).
					Str("path", dest).
					Int64("bytes_written", written+int64(n)).
					Int64("budget", budget).
					Msg("session quota exceeded mid-stream, aborting write")
				return 0, "", common.NewError(op, sessionID, common.ErrQuotaExceeded,
					fmt.Errorf("write exceeds remaining session budget of %d bytes", budget))
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return 0, "", common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("failed to write content: %w", err))
			}
			written += int64(n)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, "", common.StorageErr(op, sessionID, fmt.Errorf("failed to read content: %w", readErr))
		}
	}

	// Ensure data is flushed to disk
	if err := tempFile.Sync(); err != nil {
		return 0, "", common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("failed to sync temporary file: %w", err))
	}
	if err := tempFile.Close(); err != nil {
		return 0, "", common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("failed to close temporary file: %w", err))
	}

	if err := os.Rename(tempPath, dest); err != nil {
		return 0, "", common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("failed to move file to final location: %w", err))
	}
	committed = true
	return written, checksum.Sum(), nil
}

// existingSize returns the size of the regular file at path, or 0
func existingSize(path string) int64 {
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return info.Size()
	}
	return 0
}

// Open locks relPath and returns a stream over its contents. The lock is
// held until the stream is exhausted, fails, or is closed.
func (e *Engine) Open(ctx context.Context, sessionID, relPath string) (*FileStream, error) {
	const op = "open file stream"

	path, err := e.store.FilePath(sessionID, relPath)
	if err != nil {
		return nil, err
	}

	lease, err := e.locks.Acquire(ctx, sessionID, e.store.LockDir(sessionID), path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		lease.Release()
		log.Debug().Err(err).Str("session_id", sessionID).Str("path", relPath).Msg("failed to open file")
		return nil, common.NewError(op, sessionID, common.ErrStorage, err)
	}

	return &FileStream{
		sessionID: sessionID,
		relPath:   relPath,
		file:      file,
		lease:     lease,
		buf:       make([]byte, e.chunkSize),
	}, nil
}
