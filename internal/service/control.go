package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/models"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/util"
)

// ControlCommand identifies who issued a control-plane command and how to
// dedup it.
type ControlCommand struct {
	ActorUserID    string
	TelegramUserID string
	RequestID      string
	IdempotencyKey string
}

// ControlService mutates workspace control settings and records every
// command as an append-only admin action.
type ControlService struct {
	store  store.Store
	ledger *Ledger
	logger *zap.Logger
}

func NewControlService(st store.Store, ledger *Ledger, logger *zap.Logger) *ControlService {
	return &ControlService{store: st, ledger: ledger, logger: logger}
}

// Settings returns the control settings row, materializing the default one
// for workspaces created before the control plane existed.
func (c *ControlService) Settings(ctx context.Context, scope store.Scope) (*models.WorkspaceControlSettings, error) {
	settings, err := c.store.GetControlSettings(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		settings = &models.WorkspaceControlSettings{
			ID:              uuid.NewString(),
			WorkspaceID:     scope.WorkspaceID(),
			ChannelsJSON:    "{}",
			OperationalMode: models.OperationalModeReview,
		}
		if err := c.store.SaveControlSettings(ctx, scope, settings); err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// Pause stops queue execution for the workspace until resumed.
func (c *ControlService) Pause(ctx context.Context, scope store.Scope, cmd ControlCommand) (*models.WorkspaceControlSettings, error) {
	return c.apply(ctx, scope, cmd, "pause", nil, func(settings *models.WorkspaceControlSettings) error {
		settings.IsPaused = true
		return nil
	})
}

// Resume re-enables queue execution.
func (c *ControlService) Resume(ctx context.Context, scope store.Scope, cmd ControlCommand) (*models.WorkspaceControlSettings, error) {
	return c.apply(ctx, scope, cmd, "resume", nil, func(settings *models.WorkspaceControlSettings) error {
		settings.IsPaused = false
		return nil
	})
}

// SetMode switches the operational mode between review and autopilot.
func (c *ControlService) SetMode(ctx context.Context, scope store.Scope, cmd ControlCommand, mode string) (*models.WorkspaceControlSettings, error) {
	if mode != models.OperationalModeReview && mode != models.OperationalModeAutopilot {
		return nil, fmt.Errorf("unsupported operational mode: %s", mode)
	}
	payload := map[string]interface{}{"mode": mode}
	return c.apply(ctx, scope, cmd, "mode", payload, func(settings *models.WorkspaceControlSettings) error {
		now := time.Now().UTC()
		settings.OperationalMode = mode
		settings.LastModeChangeAt = &now
		return nil
	})
}

func (c *ControlService) apply(
	ctx context.Context,
	scope store.Scope,
	cmd ControlCommand,
	command string,
	payload map[string]interface{},
	mutate func(*models.WorkspaceControlSettings) error,
) (*models.WorkspaceControlSettings, error) {
	// A repeated idempotency key means the command already ran; return
	// the current state without reapplying.
	if cmd.IdempotencyKey != "" {
		if _, err := c.store.FindAdminAction(ctx, scope, cmd.IdempotencyKey); err == nil {
			return c.Settings(ctx, scope)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	start := time.Now()
	settings, err := c.Settings(ctx, scope)
	if err != nil {
		return nil, err
	}

	mutateErr := mutate(settings)
	if mutateErr == nil {
		mutateErr = c.store.SaveControlSettings(ctx, scope, settings)
	}

	durationMs := int(time.Since(start).Milliseconds())
	action := &models.AdminAction{
		ID:             uuid.NewString(),
		WorkspaceID:    scope.WorkspaceID(),
		ActorUserID:    cmd.ActorUserID,
		TelegramUserID: cmd.TelegramUserID,
		Command:        command,
		PayloadJSON:    util.CanonicalJSON(payload),
		Status:         "ok",
		DurationMs:     &durationMs,
		RequestID:      cmd.RequestID,
	}
	if cmd.IdempotencyKey != "" {
		key := cmd.IdempotencyKey
		action.IdempotencyKey = &key
	}
	if mutateErr != nil {
		action.Status = "failed"
		action.ErrorMessage = util.Truncate(mutateErr.Error(), 255)
	}

	if _, auditErr := c.ledger.RecordAdminAction(ctx, scope, action); auditErr != nil {
		c.logger.Error("Failed to record admin action",
			zap.String("workspace_id", scope.WorkspaceID()),
			zap.String("command", command),
			zap.Error(auditErr))
	}

	if mutateErr != nil {
		return nil, mutateErr
	}
	return settings, nil
}
