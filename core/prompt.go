package core

import (
	"encoding/json"
	"strings"
	"time"
)

// ItemType classifies a library item.
type ItemType string

const (
	ItemTypePrompt  ItemType = "prompt"
	ItemTypeSnippet ItemType = "snippet"
	ItemTypeFAQ     ItemType = "faq"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypePrompt, ItemTypeSnippet, ItemTypeFAQ:
		return true
	}
	return false
}

// ParseItemType returns the item type for s. Empty input yields ItemTypePrompt.
func ParseItemType(s string) (ItemType, error) {
	if s == "" {
		return ItemTypePrompt, nil
	}
	t := ItemType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "item_type", Value: s, Message: "must be one of prompt, snippet, faq"}
	}
	return t, nil
}

// PromptStatus is the lifecycle state of a prompt.
type PromptStatus string

const (
	PromptActive   PromptStatus = "active"
	PromptArchived PromptStatus = "archived"
)

// VersionStatus is the approval state of a prompt version.
type VersionStatus string

const (
	VersionDraft           VersionStatus = "draft"
	VersionPendingApproval VersionStatus = "pending_approval"
	VersionApproved        VersionStatus = "approved"
	VersionRejected        VersionStatus = "rejected"
	VersionDeprecated      VersionStatus = "deprecated"
)

var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionDraft:           {VersionPendingApproval, VersionApproved},
	VersionPendingApproval: {VersionApproved, VersionRejected},
	VersionApproved:        {VersionDeprecated},
}

// CanTransition reports whether a version may move from s to next.
func (s VersionStatus) CanTransition(next VersionStatus) bool {
	for _, allowed := range versionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Prompt is a named library item. CurrentVersionID references one of the
// prompt's own versions; CurrentVersion is populated when a store loads it.
type Prompt struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	DisplayName      string         `json:"display_name"`
	Description      string         `json:"description,omitempty"`
	ItemType         ItemType       `json:"item_type"`
	Tags             []string       `json:"tags"`
	Status           PromptStatus   `json:"status"`
	CurrentVersionID string         `json:"current_version_id,omitempty"`
	CurrentVersion   *PromptVersion `json:"current_version,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// PromptVersion is one immutable revision of a prompt's content.
type PromptVersion struct {
	ID            string          `json:"id"`
	PromptID      string          `json:"prompt_id"`
	VersionNumber int             `json:"version_number"`
	Status        VersionStatus   `json:"status"`
	Content       string          `json:"content"`
	InputSchema   json.RawMessage `json:"input_schema,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	ApprovedBy    string          `json:"approved_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
}

// Copy returns a deep copy of the prompt, including its loaded current version.
func (p *Prompt) Copy() *Prompt {
	q := *p
	q.Tags = append([]string(nil), p.Tags...)
	if p.CurrentVersion != nil {
		q.CurrentVersion = p.CurrentVersion.Copy()
	}
	return &q
}

// Content returns the current version's content, or "" when none is loaded.
func (p *Prompt) Content() string {
	if p.CurrentVersion == nil {
		return ""
	}
	return p.CurrentVersion.Content
}

// Copy returns a deep copy of the version.
func (v *PromptVersion) Copy() *PromptVersion {
	q := *v
	q.InputSchema = append(json.RawMessage(nil), v.InputSchema...)
	q.Parameters = append(json.RawMessage(nil), v.Parameters...)
	if v.ApprovedAt != nil {
		t := *v.ApprovedAt
		q.ApprovedAt = &t
	}
	return &q
}

// NormalizeTags trims and deduplicates tags, keeping first-occurrence order.
// Empty tags are dropped. Comparison is exact after trimming.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Timestamp returns t in UTC truncated to microseconds, the precision every
// backend round-trips exactly.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
