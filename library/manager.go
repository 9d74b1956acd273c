// Package library implements the prompt library operations on top of a
// registry.Store: creation and versioning, recency listing and ranked search.
package library

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/registry"
	"go.uber.org/zap"
)

const (
	DefaultListLimit   = 50
	DefaultSearchLimit = 30
)

// Manager runs library operations against a store. It holds no state of its
// own beyond configuration and is safe for concurrent use.
type Manager struct {
	store       registry.Store
	log         *zap.Logger
	now         func() time.Time
	newID       func() string
	listLimit   int
	searchLimit int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides id generation (uuid v4 by default).
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// WithLimits sets the default page sizes used when a caller passes a
// non-positive limit. Non-positive values keep the defaults.
func WithLimits(list, search int) Option {
	return func(m *Manager) {
		if list > 0 {
			m.listLimit = list
		}
		if search > 0 {
			m.searchLimit = search
		}
	}
}

// NewManager creates a Manager on store.
func NewManager(store registry.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		log:         zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
		listLimit:   DefaultListLimit,
		searchLimit: DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() registry.Store { return m.store }

func (m *Manager) timestamp() time.Time {
	return core.Timestamp(m.now())
}

// CreateParams describes a new prompt and its first version.
type CreateParams struct {
	Name        string
	DisplayName string
	Description string
	ItemType    string
	Tags        []string
	Content     string
	Notes       string
	CreatedBy   string
	InputSchema json.RawMessage
	Parameters  json.RawMessage
}

// Create stores a new active prompt with an approved version 1 as its current
// version. Name uniqueness is left to the store; a taken name yields
// core.ErrDuplicateName and nothing is persisted.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*core.Prompt, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, &core.ValidationError{Field: "name", Value: p.Name, Message: "name is required"}
	}
	itemType, err := core.ParseItemType(p.ItemType)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(p.DisplayName)
	if displayName == "" {
		displayName = name
	}

	now := m.timestamp()
	approvedAt := now
	prompt := &core.Prompt{
		ID:          m.newID(),
		Name:        name,
		DisplayName: displayName,
		Description: p.Description,
		ItemType:    itemType,
		Tags:        core.NormalizeTags(p.Tags),
		Status:      core.PromptActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	version := &core.PromptVersion{
		ID:            m.newID(),
		PromptID:      prompt.ID,
		VersionNumber: 1,
		Status:        core.VersionApproved,
		Content:       p.Content,
		InputSchema:   p.InputSchema,
		Parameters:    p.Parameters,
		Notes:         p.Notes,
		CreatedBy:     p.CreatedBy,
		ApprovedBy:    p.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		ApprovedAt:    &approvedAt,
	}
	prompt.CurrentVersionID = version.ID
	prompt.CurrentVersion = version

	if err := m.store.Insert(ctx, prompt, version); err != nil {
		m.log.Warn("create prompt failed", zap.String("name", name), zap.Error(err))
		return nil, err
	}
	m.log.Info("prompt created",
		zap.String("prompt_id", prompt.ID),
		zap.String("name", name),
		zap.String("item_type", string(itemType)),
		zap.Int("tags", len(prompt.Tags)))
	return prompt, nil
}

// Get returns the prompt with its current version loaded, or core.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*core.Prompt, error) {
	return m.store.GetPrompt(ctx, id)
}

// GetByName returns the prompt with the given unique name.
func (m *Manager) GetByName(ctx context.Context, name string) (*core.Prompt, error) {
	return m.store.GetPromptByName(ctx, strings.TrimSpace(name))
}

// UpdateParams holds prompt field changes. Nil or empty fields are left unchanged.
type UpdateParams struct {
	DisplayName *string
	Description *string
	ItemType    string
	Tags        []string
}

// Update applies field changes to a prompt and advances its UpdatedAt.
func (m *Manager) Update(ctx context.Context, id string, u UpdateParams) (*core.Prompt, error) {
	p, err := m.store.GetPrompt(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.DisplayName != nil {
		dn := strings.TrimSpace(*u.DisplayName)
		if dn == "" {
			return nil, &core.ValidationError{Field: "display_name", Message: "display name cannot be empty"}
		}
		p.DisplayName = dn
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.ItemType != "" {
		t, err := core.ParseItemType(u.ItemType)
		if err != nil {
			return nil, err
		}
		p.ItemType = t
	}
	if u.Tags != nil {
		p.Tags = core.NormalizeTags(u.Tags)
	}
	return m.savePrompt(ctx, p, "prompt updated")
}

// Archive marks a prompt archived. Archived prompts stay listable and searchable.
func (m *Manager) Archive(ctx context.Context, id string) (*core.Prompt, error) {
	return m.setStatus(ctx, id, core.PromptArchived)
}

// Restore marks an archived prompt active again.
func (m *Manager) Restore(ctx context.Context, id string) (*core.Prompt, error) {
	return m.setStatus(ctx, id, core.PromptActive)
}

func (m *Manager) setStatus(ctx context.Context, id string, status core.PromptStatus) (*core.Prompt, error) {
	p, err := m.store.GetPrompt(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}
	p.Status = status
	return m.savePrompt(ctx, p, "prompt "+string(status))
}

func (m *Manager) savePrompt(ctx context.Context, p *core.Prompt, event string) (*core.Prompt, error) {
	p.UpdatedAt = m.timestamp()
	if err := m.store.UpdatePrompt(ctx, p); err != nil {
		return nil, err
	}
	m.log.Info(event, zap.String("prompt_id", p.ID), zap.String("status", string(p.Status)))
	return p, nil
}
