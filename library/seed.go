package library

import (
	"context"
	"errors"
	"time"

	"github.com/klejdi94/promptlib/core"
	"go.uber.org/zap"
)

// SeedResult reports what Seed did.
type SeedResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

type seedItem struct {
	name, title, body string
	itemType          core.ItemType
	tags              []string
}

var demoItems = []seedItem{
	{"doc-onboarding", "Onboarding Welcome",
		"Welcome new teammates. Outline first-week tasks, key docs, and buddies.",
		core.ItemTypeSnippet, []string{"onboarding", "people"}},
	{"prompt-code-review", "LLM Code Review",
		"You are a senior engineer. Review the following code for correctness, security, and performance. Respond with prioritized issues and concrete fixes.",
		core.ItemTypePrompt, []string{"prompt", "code", "quality"}},
	{"prompt-debug", "Incident Debug Template",
		"Ask clarifying questions, list likely failure domains, propose a minimal debug plan, and suggest quick mitigations.",
		core.ItemTypePrompt, []string{"incident", "sre"}},
	{"faq-security", "Security FAQ",
		"Data residency: US/EU only. PII policy: no storage in logs. Rotation: API keys rotate every 90 days.",
		core.ItemTypeFAQ, []string{"security", "policy"}},
	{"snippet-typescript", "TypeScript Error Handler",
		"export function handleApiError(err: unknown) { if (err instanceof Error) return err.message; return 'Unexpected error'; }",
		core.ItemTypeSnippet, []string{"typescript", "snippet"}},
	{"research-brief", "Research Brief Template",
		"Goal, hypothesis, success metrics, risks, and timeline. Keep to one page.",
		core.ItemTypeSnippet, []string{"research", "template"}},
	{"meeting-notes", "Weekly Sync Notes",
		"Decisions, owners, deadlines. Avoid verbatim transcription.",
		core.ItemTypeSnippet, []string{"meetings", "ops"}},
	{"prompt-product-spec", "Product Spec Drafter",
		"Write a crisp product spec including problem, goals/non-goals, user stories, acceptance criteria, and rollout plan.",
		core.ItemTypePrompt, []string{"product", "writing"}},
	{"prompt-qa", "QA Checklist",
		"Generate a QA checklist covering functional, performance, accessibility, and edge cases based on the feature description.",
		core.ItemTypePrompt, []string{"qa", "testing"}},
	{"snippet-sqlite", "SQLite FTS Example",
		"CREATE VIRTUAL TABLE docs USING fts5(title, body); INSERT INTO docs (title, body) VALUES ('Test', 'Hello world'); SELECT * FROM docs WHERE docs MATCH 'hello';",
		core.ItemTypeSnippet, []string{"sqlite", "fts"}},
}

// Seed fills an empty store with the demo items, spaced an hour apart so the
// last item is the most recent. A non-empty store is left untouched and its
// size reported as skipped.
func (m *Manager) Seed(ctx context.Context) (*SeedResult, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return &SeedResult{Skipped: n}, nil
	}
	now := m.timestamp()
	res := &SeedResult{}
	for i, item := range demoItems {
		at := now.Add(-time.Duration(len(demoItems)-i-1) * time.Hour)
		approvedAt := at
		p := &core.Prompt{
			ID:          m.newID(),
			Name:        item.name,
			DisplayName: item.title,
			ItemType:    item.itemType,
			Tags:        core.NormalizeTags(item.tags),
			Status:      core.PromptActive,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
		v := &core.PromptVersion{
			ID:            m.newID(),
			PromptID:      p.ID,
			VersionNumber: 1,
			Status:        core.VersionApproved,
			Content:       item.body,
			CreatedAt:     at,
			UpdatedAt:     at,
			ApprovedAt:    &approvedAt,
		}
		p.CurrentVersionID = v.ID
		if err := m.store.Insert(ctx, p, v); err != nil {
			if errors.Is(err, core.ErrDuplicateName) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Inserted++
	}
	m.log.Info("library seeded", zap.Int("inserted", res.Inserted), zap.Int("skipped", res.Skipped))
	return res, nil
}
