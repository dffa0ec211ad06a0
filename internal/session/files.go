package session

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/transfer"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

// writeConsumer prefixes the busy marker held for the length of a file write
const writeConsumer = "write"

// EnsureWorkspace recreates any missing workspace directory and returns the session path
func (m *Manager) EnsureWorkspace(ctx context.Context, id string) (string, error) {
	const op = "ensure workspace"
	if err := m.update(ctx, op, id, nil); err != nil {
		return "", err
	}
	path, err := m.store.Ensure(ctx, id)
	if err != nil {
		return "", common.StorageErr(op, id, err)
	}
	return path, nil
}

// SaveLargeFile streams body into files/<category>/<filename> in chunks.
// size is the declared length or transfer.UnknownSize.
func (m *Manager) SaveLargeFile(ctx context.Context, id string, body io.Reader, size int64, category, filename string) (*transfer.SaveResult, error) {
	// the marker is registered under the registry lock, so End either sees
	// this write and defers or has already removed the session
	relPath := path.Join(category, filename)
	consumer := writeConsumer + "-" + uuid.NewString()
	if err := m.update(ctx, "save file", id, func(*entry) error {
		m.busy.Mark(id, relPath, consumer)
		return nil
	}); err != nil {
		return nil, err
	}
	defer m.busy.Unmark(id, relPath, consumer)

	startTime := time.Now()
	res, err := m.transfer.Save(ctx, id, body, size, category, filename)
	if err != nil {
		m.metrics.RecordWrite(0, time.Since(startTime), err)
		log.Debug().Err(err).Str("session_id", id).Str("path", relPath).Msg("file write failed")
		return nil, err
	}
	m.metrics.RecordWrite(res.BytesWritten, res.Duration, nil)
	return res, nil
}

// OpenFileStream returns a chunked reader over files/<relPath>. The file
// lock is held until the stream is exhausted or closed.
func (m *Manager) OpenFileStream(ctx context.Context, id, relPath string) (*transfer.FileStream, error) {
	if err := m.update(ctx, "open file stream", id, nil); err != nil {
		return nil, err
	}
	stream, err := m.transfer.Open(ctx, id, relPath)
	if err != nil {
		return nil, err
	}
	stream.OnClose(m.metrics.RecordRead)
	return stream, nil
}

// MarkBusy records that consumer is working on relPath, blocking teardown
func (m *Manager) MarkBusy(ctx context.Context, id, relPath, consumer string) error {
	const op = "mark busy"
	if relPath == "" || consumer == "" {
		return common.InvalidInput(op, id, "file path and consumer are required")
	}
	if err := m.update(ctx, op, id, func(*entry) error {
		m.busy.Mark(id, relPath, consumer)
		return nil
	}); err != nil {
		return err
	}
	log.Debug().Str("session_id", id).Str("path", relPath).Str("consumer", consumer).Msg("file marked busy")
	return nil
}

// UnmarkBusy drops the marker; unknown markers are ignored
func (m *Manager) UnmarkBusy(id, relPath, consumer string) {
	m.busy.Unmark(id, relPath, consumer)
	log.Debug().Str("session_id", id).Str("path", relPath).Str("consumer", consumer).Msg("file unmarked busy")
}

// CanCleanup reports whether no file of the session is busy
func (m *Manager) CanCleanup(id string) bool {
	return m.busy.CanCleanup(id)
}

// BusyFiles returns the session's busy markers as "path:consumer" tags
func (m *Manager) BusyFiles(id string) []string {
	return m.busy.Tags(id)
}

// TeardownPending reports whether a grace-period teardown is scheduled for id
func (m *Manager) TeardownPending(id string) bool {
	return m.teardown.Pending(id)
}

// Usage reports the session's and the process's bytes against their ceilings
func (m *Manager) Usage(ctx context.Context, id string) (types.StorageUsage, error) {
	const op = "storage usage"
	if err := m.update(ctx, op, id, nil); err != nil {
		return types.StorageUsage{}, err
	}

	sessionBytes, err := m.store.SessionSize(ctx, id)
	if err != nil {
		return types.StorageUsage{}, common.StorageErr(op, id, err)
	}
	globalBytes, err := m.store.TotalSize(ctx)
	if err != nil {
		return types.StorageUsage{}, common.StorageErr(op, id, err)
	}
	m.metrics.SetStorageBytes("global", globalBytes)

	return types.StorageUsage{
		SessionBytes: sessionBytes,
		SessionQuota: m.quota.SessionQuota(),
		GlobalBytes:  globalBytes,
		GlobalQuota:  m.quota.GlobalQuota(),
	}, nil
}
