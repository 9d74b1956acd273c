package library

import (
	"context"
	"time"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/registry"
)

// ListParams selects a page of the recency listing.
type ListParams struct {
	// Since keeps only prompts updated strictly after it.
	Since string
	// Cursor is a NextCursor from a previous page; the listing resumes at it.
	Cursor string
	Limit  int
}

// Page is one page of the recency listing.
type Page struct {
	Items      []*core.Prompt `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// List returns prompts ordered by UpdatedAt descending, then ID descending.
// One extra row is fetched to detect a following page; when present its
// UpdatedAt becomes NextCursor.
//
// A cursor is only a timestamp, so a page never ends inside a group of
// prompts sharing one UpdatedAt: when the extra row ties with the last row
// the page is extended through the whole group and NextCursor moves to the
// next strictly older timestamp. Such a page can hold more than Limit items.
func (m *Manager) List(ctx context.Context, p ListParams) (*Page, error) {
	since, err := ParseCursor(p.Since)
	if err != nil {
		return nil, err
	}
	cursor, err := ParseCursor(p.Cursor)
	if err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = m.listLimit
	}
	prompts, err := m.store.QueryPrompts(ctx, registry.Query{
		UpdatedAfter:      since,
		UpdatedAtOrBefore: cursor,
		Limit:             limit + 1,
	})
	if err != nil {
		return nil, err
	}
	page := &Page{Items: prompts}
	if len(prompts) > limit {
		last, next := prompts[limit-1], prompts[limit]
		if next.UpdatedAt.Equal(last.UpdatedAt) {
			return m.extendTie(ctx, prompts[:limit], last.UpdatedAt, since)
		}
		page.NextCursor = FormatCursor(next.UpdatedAt)
		page.Items = prompts[:limit]
	}
	if page.Items == nil {
		page.Items = []*core.Prompt{}
	}
	return page, nil
}

// extendTie completes a page whose last rows share the timestamp at with every
// other prompt updated at exactly that instant.
func (m *Manager) extendTie(ctx context.Context, head []*core.Prompt, at, since time.Time) (*Page, error) {
	items := make([]*core.Prompt, 0, len(head))
	for _, p := range head {
		if p.UpdatedAt.After(at) {
			items = append(items, p)
		}
	}
	// Stored timestamps have microsecond resolution.
	before := at.Add(-time.Microsecond)
	group, err := m.store.QueryPrompts(ctx, registry.Query{
		UpdatedAfter:      before,
		UpdatedAtOrBefore: at,
	})
	if err != nil {
		return nil, err
	}
	items = append(items, group...)

	page := &Page{Items: items}
	older, err := m.store.QueryPrompts(ctx, registry.Query{
		UpdatedAfter:      since,
		UpdatedAtOrBefore: before,
		Limit:             1,
	})
	if err != nil {
		return nil, err
	}
	if len(older) > 0 {
		page.NextCursor = FormatCursor(older[0].UpdatedAt)
	}
	return page, nil
}
