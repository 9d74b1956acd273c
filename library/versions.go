package library

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klejdi94/promptlib/core"
	"go.uber.org/zap"
)

// VersionParams describes a new revision of an existing prompt.
type VersionParams struct {
	Content     string
	Notes       string
	CreatedBy   string
	InputSchema json.RawMessage
	Parameters  json.RawMessage
	// Submit creates the version as pending_approval instead of draft.
	Submit bool
}

// AddVersion appends a version to the prompt. The new version is not current
// until it is approved.
func (m *Manager) AddVersion(ctx context.Context, promptID string, p VersionParams) (*core.PromptVersion, error) {
	if p.Content == "" {
		return nil, &core.ValidationError{Field: "content", Message: "content is required"}
	}
	status := core.VersionDraft
	if p.Submit {
		status = core.VersionPendingApproval
	}
	now := m.timestamp()
	v := &core.PromptVersion{
		ID:          m.newID(),
		PromptID:    promptID,
		Status:      status,
		Content:     p.Content,
		InputSchema: p.InputSchema,
		Parameters:  p.Parameters,
		Notes:       p.Notes,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.AppendVersion(ctx, v); err != nil {
		return nil, err
	}
	m.log.Info("version added",
		zap.String("prompt_id", promptID),
		zap.Int("version", v.VersionNumber),
		zap.String("status", string(status)))
	return v, nil
}

// ListVersions returns the prompt's versions ordered by version number.
func (m *Manager) ListVersions(ctx context.Context, promptID string) ([]*core.PromptVersion, error) {
	return m.store.ListVersions(ctx, promptID)
}

// GetVersion returns version number n of the prompt.
func (m *Manager) GetVersion(ctx context.Context, promptID string, n int) (*core.PromptVersion, error) {
	versions, err := m.store.ListVersions(ctx, promptID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.VersionNumber == n {
			return v, nil
		}
	}
	return nil, fmt.Errorf("version %d of prompt %s: %w", n, promptID, core.ErrNotFound)
}

// SubmitVersion moves a draft to pending_approval.
func (m *Manager) SubmitVersion(ctx context.Context, promptID string, n int) (*core.PromptVersion, error) {
	return m.transition(ctx, promptID, n, core.VersionPendingApproval, "")
}

// ApproveVersion approves a draft or pending version and makes it the
// prompt's current version.
func (m *Manager) ApproveVersion(ctx context.Context, promptID string, n int, approver string) (*core.PromptVersion, error) {
	return m.transition(ctx, promptID, n, core.VersionApproved, approver)
}

// RejectVersion rejects a pending version.
func (m *Manager) RejectVersion(ctx context.Context, promptID string, n int) (*core.PromptVersion, error) {
	return m.transition(ctx, promptID, n, core.VersionRejected, "")
}

// DeprecateVersion retires an approved version. The current pointer is not moved.
func (m *Manager) DeprecateVersion(ctx context.Context, promptID string, n int) (*core.PromptVersion, error) {
	return m.transition(ctx, promptID, n, core.VersionDeprecated, "")
}

func (m *Manager) transition(ctx context.Context, promptID string, n int, next core.VersionStatus, approver string) (*core.PromptVersion, error) {
	v, err := m.GetVersion(ctx, promptID, n)
	if err != nil {
		return nil, err
	}
	if !v.Status.CanTransition(next) {
		return nil, fmt.Errorf("version %d %s -> %s: %w", n, v.Status, next, core.ErrInvalidTransition)
	}
	now := m.timestamp()
	prev := v.Status
	v.Status = next
	v.UpdatedAt = now
	makeCurrent := next == core.VersionApproved
	if makeCurrent {
		approvedAt := now
		v.ApprovedBy = approver
		v.ApprovedAt = &approvedAt
	}
	if err := m.store.UpdateVersion(ctx, v, makeCurrent, now); err != nil {
		return nil, err
	}
	m.log.Info("version status changed",
		zap.String("prompt_id", promptID),
		zap.Int("version", n),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.Bool("current", makeCurrent))
	return v, nil
}
