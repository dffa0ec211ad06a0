package transfer

import (
	"io"
	"iter"
	"os"
	"sync"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/lock"
	"github.com/rs/zerolog/log"
)

// FileStream yields a file in chunks, once. It is not safe for concurrent use.
type FileStream struct {
	sessionID string
	relPath   string
	file      *os.File
	lease     *lock.Lease
	buf       []byte
	read      int64
	onClose   func(bytesRead int64)

	closeOnce sync.Once
	closeErr  error
	done      bool
}

// Next returns the next chunk, or io.EOF once the file is exhausted. The
// returned slice is only valid until the following call. Any error other
// than io.EOF matches common.ErrStorage. The lock is released as soon as
// Next returns an error.
func (s *FileStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(s.file, s.buf)
	if n > 0 {
		s.read += int64(n)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// short final chunk; report EOF on the next call
			s.finish()
		}
		return s.buf[:n], nil
	}

	s.finish()
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, io.EOF
	}
	return nil, common.NewError("read file stream", s.sessionID, common.ErrStorage, err)
}

// All ranges over the remaining chunks. Iteration stops after the first
// error, and breaking out of the loop closes the stream.
func (s *FileStream) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer s.Close()
		for {
			chunk, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// BytesRead returns the number of bytes handed out so far
func (s *FileStream) BytesRead() int64 {
	return s.read
}

// OnClose registers fn to run once the stream is finished
func (s *FileStream) OnClose(fn func(bytesRead int64)) {
	s.onClose = fn
}

// Close releases the file and its lock. It is safe to call more than once.
func (s *FileStream) Close() error {
	s.finish()
	return s.closeErr
}

func (s *FileStream) finish() {
	s.done = true
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
		s.lease.Release()
		if s.onClose != nil {
			s.onClose(s.read)
		}
		log.Debug().
			Str("session_id", s.sessionID).
			Str("path", s.relPath).
			Int64("bytes_read", s.read).
			Msg("file stream closed")
	})
}
