package quota

import (
	"context"
	"fmt"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/rs/zerolog/log"
)

// Usage reports on-disk byte usage. Sizes are recomputed on every call.
type Usage interface {
	SessionSize(ctx context.Context, sessionID string) (int64, error)
	TotalSize(ctx context.Context) (int64, error)
}

// Evictor reclaims global space by ending whole sessions
type Evictor interface {
	// EvictionCandidates lists sessions safe to remove, oldest first, never including exclude
	EvictionCandidates(exclude string) []string
	// Evict removes the session and its workspace
	Evict(ctx context.Context, sessionID string) error
}

// Enforcer checks prospective writes against the per-session and global ceilings
type Enforcer struct {
	usage        Usage
	evictor      Evictor
	sessionQuota int64
	globalQuota  int64
}

// NewEnforcer creates an enforcer; evictor may be nil to disable reclaiming
func NewEnforcer(usage Usage, evictor Evictor, sessionQuota, globalQuota int64) *Enforcer {
	return &Enforcer{
		usage:        usage,
		evictor:      evictor,
		sessionQuota: sessionQuota,
		globalQuota:  globalQuota,
	}
}

// SessionQuota returns the per-session ceiling
func (e *Enforcer) SessionQuota() int64 { return e.sessionQuota }

// GlobalQuota returns the process-wide ceiling
func (e *Enforcer) GlobalQuota() int64 { return e.globalQuota }

// Check reports whether incoming more bytes fit. A global overflow first
// evicts the oldest eligible sessions, one at a time, until the write fits
// or no candidate is left.
func (e *Enforcer) Check(ctx context.Context, sessionID string, incoming int64) (bool, error) {
	if incoming < 0 {
		incoming = 0
	}

	sessionSize, err := e.usage.SessionSize(ctx, sessionID)
	if err != nil {
		return false, common.StorageErr("check quota", sessionID, err)
	}
	if sessionSize+incoming > e.sessionQuota {
		log.Warn().
			Str("session_id", sessionID).
			Int64("session_bytes", sessionSize).
			Int64("incoming", incoming).
			Int64("quota", e.sessionQuota).
			Msg("session quota would be exceeded")
		return false, nil
	}

	total, err := e.usage.TotalSize(ctx)
	if err != nil {
		return false, common.StorageErr("check quota", sessionID, err)
	}
	if total+incoming <= e.globalQuota {
		return true, nil
	}

	if e.evictor == nil {
		return false, nil
	}

	for _, candidate := range e.evictor.EvictionCandidates(sessionID) {
		log.Info().
			Str("session_id", candidate).
			Str("requested_by", sessionID).
			Int64("global_bytes", total).
			Msg("evicting session to reclaim global quota")

		if err := e.evictor.Evict(ctx, candidate); err != nil {
			log.Warn().Err(err).Str("session_id", candidate).Msg("eviction failed")
			continue
		}

		total, err = e.usage.TotalSize(ctx)
		if err != nil {
			return false, common.StorageErr("check quota", sessionID, err)
		}
		if total+incoming <= e.globalQuota {
			return true, nil
		}
	}

	return false, nil
}

// Admit is Check expressed as an error matching common.ErrQuotaExceeded
func (e *Enforcer) Admit(ctx context.Context, sessionID string, incoming int64) error {
	ok, err := e.Check(ctx, sessionID, incoming)
	if err != nil {
		return err
	}
	if !ok {
		return common.NewError("check quota", sessionID, common.ErrQuotaExceeded,
			fmt.Errorf("%d incoming bytes do not fit", incoming))
	}
	return nil
}

// SessionRemaining returns how many more bytes the session may hold
func (e *Enforcer) SessionRemaining(ctx context.Context, sessionID string) (int64, error) {
	used, err := e.usage.SessionSize(ctx, sessionID)
	if err != nil {
		return 0, common.StorageErr("check quota", sessionID, err)
	}
	if remaining := e.sessionQuota - used; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}
