package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

// Data returns a snapshot of the session's progress record
func (m *Manager) Data(ctx context.Context, id string) (types.SessionData, error) {
	var out types.SessionData
	err := m.update(ctx, "session data", id, func(e *entry) error {
		out = e.data.Snapshot()
		return nil
	})
	return out, err
}

// StartProcessing starts a new processing task, superseding any previous
// one, and moves the session to PROCESSING.
func (m *Manager) StartProcessing(ctx context.Context, id, step string) (*types.ProcessingStatus, error) {
	var status *types.ProcessingStatus
	err := m.shift(ctx, "start processing", id, types.StateProcessing, func(e *entry) {
		status = e.data.StartProcessing(step).Clone()
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", id).Str("task_id", status.TaskID).Msg("processing started")
	return status, nil
}

// UpdateProgress records progress of the active task. Progress is clamped to 0-100.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	return m.update(ctx, "update progress", id, func(e *entry) error {
		e.data.UpdateProgress(progress, step)
		return nil
	})
}

// CompleteProcessing finishes the active task and moves PROCESSING to COMPLETED
func (m *Manager) CompleteProcessing(ctx context.Context, id string) error {
	return m.shift(ctx, "complete processing", id, types.StateCompleted, func(e *entry) {
		e.data.CompleteProcessing()
	})
}

// FailProcessing fails the active task, logs msg and moves the session to ERROR
func (m *Manager) FailProcessing(ctx context.Context, id, msg string) error {
	return m.shift(ctx, "fail processing", id, types.StateError, func(e *entry) {
		e.data.FailProcessing(msg)
	})
}

// RecordError appends msg to the session's error log
func (m *Manager) RecordError(ctx context.Context, id, msg string) error {
	return m.update(ctx, "record error", id, func(e *entry) error {
		e.data.AddError(msg)
		return nil
	})
}

// UpdateResourceUsage overwrites the non-nil gauges
func (m *Manager) UpdateResourceUsage(ctx context.Context, id string, memoryMB, storageMB, processingTime *float64) error {
	return m.update(ctx, "update resource usage", id, func(e *entry) error {
		e.data.UpdateResourceUsage(memoryMB, storageMB, processingTime)
		return nil
	})
}

// shift applies a legal state change and mutate as one step under the
// registry lock. An illegal edge leaves both state and data untouched.
func (m *Manager) shift(ctx context.Context, op, id string, to types.WorkflowState, mutate func(e *entry)) error {
	var from types.WorkflowState
	err := m.update(ctx, op, id, func(e *entry) error {
		from = e.session.State
		if !CanTransition(from, to) {
			return common.NewError(op, id, common.ErrInvalidTransition, fmt.Errorf("%s -> %s", from, to))
		}
		if mutate != nil {
			mutate(e)
		}
		e.session.State = to
		e.session.LastUpdated = m.now()
		return nil
	})
	if from != "" {
		m.metrics.RecordTransition(string(from), string(to), err == nil)
	}
	if err != nil {
		log.Debug().Err(err).Str("session_id", id).Str("state_from", string(from)).Str("state_to", string(to)).Msg("transition rejected")
		return err
	}

	m.persist(ctx, id)
	m.record(ctx, id, types.EventTransitioned, from, to, nil)
	log.Info().Str("session_id", id).Str("state_from", string(from)).Str("state_to", string(to)).Msg("session transitioned")
	return nil
}
