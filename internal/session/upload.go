package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/audio"
	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/pkg/types"
	"github.com/lgulliver/cliniprompt/pkg/utils"
)

// AudioCategory is where uploaded recordings are stored
const AudioCategory = "audio/original"

const uploadConsumer = "upload"

// UploadAudio validates and stores a recording, attaches it to the session
// and moves an INITIAL session to AUDIO_UPLOADED. size may be
// transfer.UnknownSize; a body longer than the upload ceiling is aborted
// and nothing is kept.
func (m *Manager) UploadAudio(ctx context.Context, id, filename, mimeType string, body io.Reader, size int64) (*types.AudioRecording, error) {
	const op = "upload audio"

	name := utils.SanitizeFileName(filename)
	if name == "" {
		return nil, common.InvalidInput(op, id, "invalid file name %q", filename)
	}
	if err := m.audio.Validate(id, name, mimeType, size); err != nil {
		return nil, err
	}
	if err := m.update(ctx, op, id, acceptsAudio(op, id)); err != nil {
		return nil, err
	}

	relPath := filepath.Join(AudioCategory, name)
	m.busy.Mark(id, relPath, uploadConsumer)
	defer m.busy.Unmark(id, relPath, uploadConsumer)

	limited := &capReader{r: body, max: m.audio.MaxSize(), op: op, sessionID: id}
	res, err := m.SaveLargeFile(ctx, id, limited, size, AudioCategory, name)
	if err != nil {
		return nil, err
	}

	mimeType = audio.BaseMIME(mimeType)
	if mimeType == audio.OctetStream {
		if detected := m.sniff(ctx, id, res.RelPath); detected != "" {
			mimeType = detected
		}
	}
	rec := audio.NewRecording(name, mimeType, res.BytesWritten, res.Path, m.now())
	rec.Checksum = res.Checksum

	var from types.WorkflowState
	err = m.update(ctx, op, id, func(e *entry) error {
		if err := acceptsAudio(op, id)(e); err != nil {
			return err
		}
		from = e.session.State
		e.recordings = replaceRecording(e.recordings, rec)
		if from == types.StateInitial {
			e.session.State = types.StateAudioUploaded
		}
		e.session.LastUpdated = m.now()
		return nil
	})
	if err != nil {
		// the session moved on while the body was streaming
		if rmErr := rec.Cleanup(); rmErr != nil {
			log.Error().Err(rmErr).Str("session_id", id).Str("path", res.RelPath).Msg("failed to remove orphaned upload")
		}
		return nil, err
	}

	if from == types.StateInitial {
		m.metrics.RecordTransition(string(from), string(types.StateAudioUploaded), true)
		m.record(ctx, id, types.EventTransitioned, from, types.StateAudioUploaded, types.JSONMap{"file_name": name})
	}
	m.persist(ctx, id)

	log.Info().
		Str("session_id", id).
		Str("path", res.RelPath).
		Int64("bytes_written", res.BytesWritten).
		Str("recording", audio.Describe(rec)).
		Str("checksum", res.Checksum).
		Msg("audio uploaded")

	out := *rec
	return &out, nil
}

// Recordings returns copies of the session's uploaded recordings
func (m *Manager) Recordings(ctx context.Context, id string) ([]types.AudioRecording, error) {
	var out []types.AudioRecording
	err := m.update(ctx, "list recordings", id, func(e *entry) error {
		out = make([]types.AudioRecording, 0, len(e.recordings))
		for _, rec := range e.recordings {
			out = append(out, *rec)
		}
		return nil
	})
	return out, err
}

// sniff detects the stored content type from the first chunk
func (m *Manager) sniff(ctx context.Context, id, relPath string) string {
	stream, err := m.transfer.Open(ctx, id, relPath)
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Str("path", relPath).Msg("failed to open upload for content detection")
		return ""
	}
	defer stream.Close()

	head, err := stream.Next()
	if err != nil {
		return ""
	}
	return audio.Detect(head)
}

func acceptsAudio(op, id string) func(e *entry) error {
	return func(e *entry) error {
		switch e.session.State {
		case types.StateInitial, types.StateAudioUploaded:
			return nil
		}
		return common.NewError(op, id, common.ErrInvalidTransition,
			fmt.Errorf("cannot upload audio in state %s", e.session.State))
	}
}

// replaceRecording swaps in rec for a recording stored at the same path
func replaceRecording(recs []*types.AudioRecording, rec *types.AudioRecording) []*types.AudioRecording {
	for i, existing := range recs {
		if filepath.Clean(existing.TemporaryPath) == filepath.Clean(rec.TemporaryPath) {
			recs[i] = rec
			return recs
		}
	}
	return append(recs, rec)
}

// capReader fails once more than max bytes have been read
type capReader struct {
	r         io.Reader
	max       int64
	read      int64
	op        string
	sessionID string
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.max {
		return 0, common.InvalidInput(c.op, c.sessionID, "file too large: exceeds %s", utils.FormatBytes(c.max))
	}
	return n, err
}
