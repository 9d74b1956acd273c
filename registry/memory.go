package registry

import (
	"context"
	"sync"
	"time"

	"github.com/klejdi94/promptlib/core"
)

// MemoryStore is an in-memory store for prompts (testing and single-process use).
type MemoryStore struct {
	mu       sync.RWMutex
	prompts  map[string]*core.Prompt        // id -> prompt (CurrentVersion unset)
	versions map[string]*core.PromptVersion // version id -> version
	byPrompt map[string][]string            // prompt id -> version ids, ascending
	names    map[string]string              // name -> prompt id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prompts:  make(map[string]*core.Prompt),
		versions: make(map[string]*core.PromptVersion),
		byPrompt: make(map[string][]string),
		names:    make(map[string]string),
	}
}

// Kind implements Store.
func (m *MemoryStore) Kind() string { return "memory" }

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, p *core.Prompt, v *core.PromptVersion) error {
	if err := validateInsert(p, v); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[p.Name]; ok {
		return core.ErrDuplicateName
	}
	if _, ok := m.prompts[p.ID]; ok {
		return core.ErrConflict
	}
	if _, ok := m.versions[v.ID]; ok {
		return core.ErrConflict
	}
	stored := p.Copy()
	stored.CurrentVersion = nil
	m.prompts[p.ID] = stored
	m.versions[v.ID] = v.Copy()
	m.byPrompt[p.ID] = []string{v.ID}
	m.names[p.Name] = p.ID
	return nil
}

// GetPrompt implements Store.
func (m *MemoryStore) GetPrompt(ctx context.Context, id string) (*core.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m.load(p), nil
}

// GetPromptByName implements Store.
func (m *MemoryStore) GetPromptByName(ctx context.Context, name string) (*core.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m.load(m.prompts[id]), nil
}

// QueryPrompts implements Store.
func (m *MemoryStore) QueryPrompts(ctx context.Context, q Query) ([]*core.Prompt, error) {
	m.mu.RLock()
	all := make([]*core.Prompt, 0, len(m.prompts))
	for _, p := range m.prompts {
		all = append(all, m.load(p))
	}
	m.mu.RUnlock()

	sortRecent(all)
	var out []*core.Prompt
	for _, p := range all {
		if !q.matches(p) {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// ListVersions implements Store.
func (m *MemoryStore) ListVersions(ctx context.Context, promptID string) ([]*core.PromptVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.byPrompt[promptID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]*core.PromptVersion, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.versions[id].Copy())
	}
	return out, nil
}

// AppendVersion implements Store.
func (m *MemoryStore) AppendVersion(ctx context.Context, v *core.PromptVersion) error {
	if v == nil || v.ID == "" {
		return &core.ValidationError{Field: "id", Message: "version id is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.byPrompt[v.PromptID]
	if !ok {
		return core.ErrNotFound
	}
	if _, ok := m.versions[v.ID]; ok {
		return core.ErrConflict
	}
	last := m.versions[ids[len(ids)-1]]
	v.VersionNumber = last.VersionNumber + 1
	m.versions[v.ID] = v.Copy()
	m.byPrompt[v.PromptID] = append(ids, v.ID)
	return nil
}

// UpdateVersion implements Store.
func (m *MemoryStore) UpdateVersion(ctx context.Context, v *core.PromptVersion, makeCurrent bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.versions[v.ID]
	if !ok || stored.PromptID != v.PromptID {
		return core.ErrNotFound
	}
	next := stored.Copy()
	next.Status = v.Status
	next.ApprovedBy = v.ApprovedBy
	next.ApprovedAt = v.ApprovedAt
	next.UpdatedAt = v.UpdatedAt
	m.versions[v.ID] = next
	if makeCurrent {
		p := m.prompts[v.PromptID]
		p.CurrentVersionID = v.ID
		p.UpdatedAt = at
	}
	return nil
}

// UpdatePrompt implements Store.
func (m *MemoryStore) UpdatePrompt(ctx context.Context, p *core.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.prompts[p.ID]
	if !ok {
		return core.ErrNotFound
	}
	stored.DisplayName = p.DisplayName
	stored.Description = p.Description
	stored.ItemType = p.ItemType
	stored.Tags = append([]string(nil), p.Tags...)
	stored.Status = p.Status
	stored.UpdatedAt = p.UpdatedAt
	return nil
}

// DeletePrompt implements Store.
func (m *MemoryStore) DeletePrompt(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok {
		return core.ErrNotFound
	}
	for _, vid := range m.byPrompt[id] {
		delete(m.versions, vid)
	}
	delete(m.byPrompt, id)
	delete(m.names, p.Name)
	delete(m.prompts, id)
	return nil
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.prompts), nil
}

// load returns a copy of p with its current version resolved. Caller holds mu.
func (m *MemoryStore) load(p *core.Prompt) *core.Prompt {
	out := p.Copy()
	if v, ok := m.versions[p.CurrentVersionID]; ok {
		out.CurrentVersion = v.Copy()
	}
	return out
}
