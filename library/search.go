package library

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/registry"
)

// Field weights of the relevance score.
const (
	scoreDisplayName = 3
	scoreTag         = 2
	scoreContent     = 1
)

// candidateFactor bounds the re-ranking window to this many times the limit.
const candidateFactor = 3

// SearchParams is a free-text search with optional attribute filters.
type SearchParams struct {
	Query    string
	Limit    int
	ItemType core.ItemType
	// Tags must all be present on a result.
	Tags []string
}

// Search returns prompts matching the query ordered by relevance score, then
// UpdatedAt, CreatedAt and ID, all descending. The store pre-filters the most
// recent matches, so an old prompt can be missed when many newer ones match.
func (m *Manager) Search(ctx context.Context, p SearchParams) ([]*core.Prompt, error) {
	query := normalizeQuery(p.Query)
	limit := p.Limit
	if limit <= 0 {
		limit = m.searchLimit
	}
	candidates, err := m.store.QueryPrompts(ctx, registry.Query{
		Match:    query,
		ItemType: p.ItemType,
		Tags:     core.NormalizeTags(p.Tags),
		Limit:    limit * candidateFactor,
	})
	if err != nil {
		return nil, err
	}
	ranked := rank(candidates, query)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// score is the additive relevance of p for a normalized, non-empty query.
func score(p *core.Prompt, query string) int {
	if query == "" {
		return 0
	}
	s := 0
	if strings.Contains(strings.ToLower(p.DisplayName), query) {
		s += scoreDisplayName
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			s += scoreTag
			break
		}
	}
	if strings.Contains(strings.ToLower(p.Content()), query) {
		s += scoreContent
	}
	return s
}

type scored struct {
	p     *core.Prompt
	score int
}

// rank orders prompts by score and recency into a total order.
func rank(prompts []*core.Prompt, query string) []*core.Prompt {
	items := make([]scored, len(prompts))
	for i, p := range prompts {
		items[i] = scored{p: p, score: score(p, query)}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if c := compareTime(a.p.UpdatedAt, b.p.UpdatedAt); c != 0 {
			return c > 0
		}
		if c := compareTime(a.p.CreatedAt, b.p.CreatedAt); c != 0 {
			return c > 0
		}
		return a.p.ID > b.p.ID
	})
	out := make([]*core.Prompt, len(items))
	for i, it := range items {
		out[i] = it.p
	}
	return out
}

func compareTime(a, b time.Time) int {
	switch {
	case a.After(b):
		return 1
	case a.Before(b):
		return -1
	}
	return 0
}

// LibraryItem is the flattened search result shape of a prompt and its
// current version.
type LibraryItem struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	ItemType  core.ItemType `json:"item_type"`
	Tags      []string      `json:"tags"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Source    string        `json:"source"`
}

// SearchItems runs Search and projects the results into LibraryItems.
// Prompts without a current version are skipped.
func (m *Manager) SearchItems(ctx context.Context, p SearchParams) ([]LibraryItem, error) {
	prompts, err := m.Search(ctx, p)
	if err != nil {
		return nil, err
	}
	items := make([]LibraryItem, 0, len(prompts))
	for _, pr := range prompts {
		v := pr.CurrentVersion
		if v == nil {
			continue
		}
		items = append(items, LibraryItem{
			ID:        pr.ID,
			Title:     pr.DisplayName,
			Body:      v.Content,
			ItemType:  pr.ItemType,
			Tags:      append([]string{}, pr.Tags...),
			Version:   v.VersionNumber,
			CreatedAt: pr.CreatedAt,
			UpdatedAt: pr.UpdatedAt,
			Source:    m.store.Kind(),
		})
	}
	return items, nil
}
