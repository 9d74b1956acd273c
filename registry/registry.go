// Package registry provides the record store contract for the prompt library
// and its storage backends.
package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/klejdi94/promptlib/core"
)

// Query selects prompts for listing and search. Results are always ordered by
// UpdatedAt descending, then ID descending.
type Query struct {
	// UpdatedAfter keeps prompts with UpdatedAt strictly after it.
	UpdatedAfter time.Time
	// UpdatedAtOrBefore keeps prompts with UpdatedAt at or before it.
	UpdatedAtOrBefore time.Time
	// Match is a lowercased substring matched against display name,
	// description, current content and tags.
	Match    string
	ItemType core.ItemType
	Tags     []string
	// Limit <= 0 means unbounded.
	Limit int
}

// Store persists prompts and their versions.
type Store interface {
	// Insert atomically stores a new prompt with its first version. The
	// prompt's CurrentVersionID must reference v.
	Insert(ctx context.Context, p *core.Prompt, v *core.PromptVersion) error
	GetPrompt(ctx context.Context, id string) (*core.Prompt, error)
	GetPromptByName(ctx context.Context, name string) (*core.Prompt, error)
	QueryPrompts(ctx context.Context, q Query) ([]*core.Prompt, error)
	ListVersions(ctx context.Context, promptID string) ([]*core.PromptVersion, error)
	// AppendVersion stores v with the next version number for its prompt and
	// writes the assigned number back into v.
	AppendVersion(ctx context.Context, v *core.PromptVersion) error
	// UpdateVersion persists v's status fields. With makeCurrent the owning
	// prompt's current version is re-pointed to v and its UpdatedAt set to at,
	// in the same unit of work.
	UpdateVersion(ctx context.Context, v *core.PromptVersion, makeCurrent bool, at time.Time) error
	// UpdatePrompt persists the prompt's mutable fields.
	UpdatePrompt(ctx context.Context, p *core.Prompt) error
	// DeletePrompt removes a prompt, all of its versions and its name claim.
	DeletePrompt(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// Kind names the backend (memory, postgres, sqlite, redis).
	Kind() string
}

func (q Query) matches(p *core.Prompt) bool {
	if !q.UpdatedAfter.IsZero() && !p.UpdatedAt.After(q.UpdatedAfter) {
		return false
	}
	if !q.UpdatedAtOrBefore.IsZero() && p.UpdatedAt.After(q.UpdatedAtOrBefore) {
		return false
	}
	if q.ItemType != "" && p.ItemType != q.ItemType {
		return false
	}
	if len(q.Tags) > 0 && !hasAll(p.Tags, q.Tags) {
		return false
	}
	if q.Match != "" && !matchesText(p, q.Match) {
		return false
	}
	return true
}

func matchesText(p *core.Prompt, needle string) bool {
	if strings.Contains(strings.ToLower(p.DisplayName), needle) ||
		strings.Contains(strings.ToLower(p.Description), needle) ||
		strings.Contains(strings.ToLower(p.Content()), needle) {
		return true
	}
	for _, t := range p.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// sortRecent orders prompts by UpdatedAt desc, then ID desc.
func sortRecent(ps []*core.Prompt) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].UpdatedAt.Equal(ps[j].UpdatedAt) {
			return ps[i].UpdatedAt.After(ps[j].UpdatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

func validateInsert(p *core.Prompt, v *core.PromptVersion) error {
	if p == nil || v == nil {
		return &core.ValidationError{Field: "prompt", Message: "prompt and version are required"}
	}
	if p.ID == "" || v.ID == "" {
		return &core.ValidationError{Field: "id", Message: "prompt and version ids are required"}
	}
	if v.PromptID != p.ID || p.CurrentVersionID != v.ID {
		return &core.ValidationError{Field: "current_version_id", Value: p.CurrentVersionID, Message: "must reference the inserted version"}
	}
	return nil
}

func hasAll(have, need []string) bool {
	for _, n := range need {
		found := false
		for _, h := range have {
			if h == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
