package registry

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/klejdi94/promptlib/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	b := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client, "test")
		},
	}
	if dsn := os.Getenv("PROMPTLIB_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			s, err := OpenPostgres(ctx, dsn)
			require.NoError(t, err)
			_, err = s.DB().ExecContext(ctx, `TRUNCATE prompts CASCADE`)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func newRecord(id, name string, at time.Time) (*core.Prompt, *core.PromptVersion) {
	approved := at
	v := &core.PromptVersion{
		ID:            id + "-v1",
		PromptID:      id,
		VersionNumber: 1,
		Status:        core.VersionApproved,
		Content:       "content of " + name,
		CreatedBy:     "alice",
		ApprovedBy:    "alice",
		CreatedAt:     at,
		UpdatedAt:     at,
		ApprovedAt:    &approved,
	}
	p := &core.Prompt{
		ID:               id,
		Name:             name,
		DisplayName:      "Display " + name,
		ItemType:         core.ItemTypePrompt,
		Tags:             []string{},
		Status:           core.PromptActive,
		CurrentVersionID: v.ID,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	return p, v
}

func insert(t *testing.T, s Store, id, name string, at time.Time, mutate func(*core.Prompt, *core.PromptVersion)) {
	t.Helper()
	p, v := newRecord(id, name, at)
	if mutate != nil {
		mutate(p, v)
	}
	require.NoError(t, s.Insert(context.Background(), p, v))
}

func ids(ps []*core.Prompt) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestStore_InsertGet(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			insert(t, s, "p1", "greeting", base, func(p *core.Prompt, v *core.PromptVersion) {
				p.Description = "Says hello"
				p.Tags = []string{"zeta", "alpha"}
				v.InputSchema = []byte(`{"type":"object"}`)
			})

			got, err := s.GetPrompt(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "greeting", got.Name)
			assert.Equal(t, "Says hello", got.Description)
			assert.Equal(t, []string{"zeta", "alpha"}, got.Tags)
			assert.True(t, base.Equal(got.CreatedAt))
			assert.True(t, base.Equal(got.UpdatedAt))
			require.NotNil(t, got.CurrentVersion)
			assert.Equal(t, "p1-v1", got.CurrentVersion.ID)
			assert.Equal(t, 1, got.CurrentVersion.VersionNumber)
			assert.Equal(t, core.VersionApproved, got.CurrentVersion.Status)
			assert.Equal(t, "content of greeting", got.CurrentVersion.Content)
			assert.JSONEq(t, `{"type":"object"}`, string(got.CurrentVersion.InputSchema))
			require.NotNil(t, got.CurrentVersion.ApprovedAt)
			assert.True(t, base.Equal(*got.CurrentVersion.ApprovedAt))

			byName, err := s.GetPromptByName(ctx, "greeting")
			require.NoError(t, err)
			assert.Equal(t, "p1", byName.ID)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, name, s.Kind())
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			_, err := s.GetPrompt(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
			_, err = s.GetPromptByName(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
			_, err = s.ListVersions(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
			err = s.AppendVersion(ctx, &core.PromptVersion{ID: "v", PromptID: "missing", Content: "x"})
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestStore_DuplicateName(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			insert(t, s, "p1", "dup", base, nil)
			p, v := newRecord("p2", "dup", base)
			err := s.Insert(ctx, p, v)
			assert.ErrorIs(t, err, core.ErrDuplicateName)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			_, err = s.GetPrompt(ctx, "p2")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestStore_ConcurrentDuplicateName(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			const n = 8
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := string(rune('a' + i))
					p, v := newRecord(id, "race", base)
					errs[i] = s.Insert(ctx, p, v)
				}(i)
			}
			wg.Wait()
			wins := 0
			for _, err := range errs {
				if err == nil {
					wins++
					continue
				}
				assert.ErrorIs(t, err, core.ErrDuplicateName)
			}
			assert.Equal(t, 1, wins)
		})
	}
}

func TestStore_InsertRejectsDanglingCurrent(t *testing.T) {
	s := NewMemoryStore()
	p, v := newRecord("p1", "x", base)
	p.CurrentVersionID = "other"
	var ve *core.ValidationError
	assert.ErrorAs(t, s.Insert(context.Background(), p, v), &ve)
}

func TestStore_QueryOrderAndBounds(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			t0, t1, t2 := base, base.Add(time.Second), base.Add(2*time.Second)
			insert(t, s, "a", "a", t0, nil)
			insert(t, s, "b", "b", t1, nil)
			insert(t, s, "c", "c", t2, nil)
			insert(t, s, "d", "d", t1, nil)

			all, err := s.QueryPrompts(ctx, Query{})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d", "b", "a"}, ids(all))

			limited, err := s.QueryPrompts(ctx, Query{Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d"}, ids(limited))

			after, err := s.QueryPrompts(ctx, Query{UpdatedAfter: t1})
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, ids(after))

			upTo, err := s.QueryPrompts(ctx, Query{UpdatedAtOrBefore: t1})
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "b", "a"}, ids(upTo))

			window, err := s.QueryPrompts(ctx, Query{UpdatedAfter: t0, UpdatedAtOrBefore: t1})
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "b"}, ids(window))
		})
	}
}

func TestStore_QueryFilters(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			insert(t, s, "a", "summarize", base, func(p *core.Prompt, v *core.PromptVersion) {
				p.DisplayName = "Summarize Text"
				p.Tags = []string{"writing", "ops"}
				v.Content = "Summarize the following"
			})
			insert(t, s, "b", "faq-refund", base.Add(time.Second), func(p *core.Prompt, v *core.PromptVersion) {
				p.DisplayName = "Refund policy"
				p.Description = "How refunds WORK"
				p.ItemType = core.ItemTypeFAQ
				p.Tags = []string{"support"}
				v.Content = "Refunds take 5 days"
			})
			insert(t, s, "c", "snippet", base.Add(2*time.Second), func(p *core.Prompt, v *core.PromptVersion) {
				p.DisplayName = "Sign-off"
				p.ItemType = core.ItemTypeSnippet
				p.Tags = []string{"writing"}
				v.Content = "100% sincerely"
			})
			insert(t, s, "d", "overview", base.Add(3*time.Second), func(p *core.Prompt, v *core.PromptVersion) {
				p.DisplayName = "Übersicht"
				p.Tags = []string{"Größe"}
				v.Content = "RÉSUMÉ"
			})

			cases := []struct {
				name string
				q    Query
				want []string
			}{
				{"display name", Query{Match: "summarize"}, []string{"a"}},
				{"description", Query{Match: "work"}, []string{"b"}},
				{"content", Query{Match: "5 days"}, []string{"b"}},
				{"tag", Query{Match: "writ"}, []string{"c", "a"}},
				{"like metachar", Query{Match: "100%"}, []string{"c"}},
				{"underscore literal", Query{Match: "_"}, nil},
				{"item type", Query{ItemType: core.ItemTypeFAQ}, []string{"b"}},
				{"all tags", Query{Tags: []string{"writing", "ops"}}, []string{"a"}},
				{"tag and match", Query{Tags: []string{"writing"}, Match: "sign"}, []string{"c"}},
				{"non-ascii display name", Query{Match: "über"}, []string{"d"}},
				{"non-ascii tag", Query{Match: "größe"}, []string{"d"}},
				{"non-ascii content", Query{Match: "résumé"}, []string{"d"}},
			}
			for _, tc := range cases {
				got, err := s.QueryPrompts(ctx, tc.q)
				require.NoError(t, err, tc.name)
				if tc.want == nil {
					assert.Empty(t, got, tc.name)
					continue
				}
				assert.Equal(t, tc.want, ids(got), tc.name)
			}
		})
	}
}

func TestStore_Versions(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			insert(t, s, "p1", "versioned", base, nil)

			at := base.Add(time.Minute)
			v2 := &core.PromptVersion{ID: "p1-v2", PromptID: "p1", Status: core.VersionDraft, Content: "second", CreatedAt: at, UpdatedAt: at}
			require.NoError(t, s.AppendVersion(ctx, v2))
			assert.Equal(t, 2, v2.VersionNumber)
			v3 := &core.PromptVersion{ID: "p1-v3", PromptID: "p1", Status: core.VersionDraft, Content: "third", CreatedAt: at, UpdatedAt: at}
			require.NoError(t, s.AppendVersion(ctx, v3))
			assert.Equal(t, 3, v3.VersionNumber)

			vers, err := s.ListVersions(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, vers, 3)
			assert.Equal(t, []int{1, 2, 3}, []int{vers[0].VersionNumber, vers[1].VersionNumber, vers[2].VersionNumber})
			assert.Equal(t, core.VersionDraft, vers[1].Status)

			// Appending does not move the current pointer.
			got, err := s.GetPrompt(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "p1-v1", got.CurrentVersionID)
			assert.True(t, base.Equal(got.UpdatedAt))

			approvedAt := base.Add(2 * time.Minute)
			v2.Status = core.VersionApproved
			v2.ApprovedBy = "bob"
			v2.ApprovedAt = &approvedAt
			v2.UpdatedAt = approvedAt
			require.NoError(t, s.UpdateVersion(ctx, v2, true, approvedAt))

			got, err = s.GetPrompt(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "p1-v2", got.CurrentVersionID)
			assert.Equal(t, "second", got.Content())
			assert.Equal(t, "bob", got.CurrentVersion.ApprovedBy)
			assert.True(t, approvedAt.Equal(got.UpdatedAt))

			recent, err := s.QueryPrompts(ctx, Query{UpdatedAfter: base})
			require.NoError(t, err)
			assert.Equal(t, []string{"p1"}, ids(recent))

			v3.Status = core.VersionRejected
			v3.UpdatedAt = approvedAt
			require.NoError(t, s.UpdateVersion(ctx, v3, false, approvedAt))
			vers, err = s.ListVersions(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, core.VersionRejected, vers[2].Status)

			err = s.UpdateVersion(ctx, &core.PromptVersion{ID: "nope", PromptID: "p1"}, false, approvedAt)
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestStore_DeletePrompt(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			insert(t, s, "p1", "doomed", base, func(p *core.Prompt, v *core.PromptVersion) {
				p.Tags = []string{"x"}
			})
			at := base.Add(time.Minute)
			v2 := &core.PromptVersion{ID: "p1-v2", PromptID: "p1", Status: core.VersionDraft, Content: "second", CreatedAt: at, UpdatedAt: at}
			require.NoError(t, s.AppendVersion(ctx, v2))
			insert(t, s, "p2", "kept", base, nil)

			require.NoError(t, s.DeletePrompt(ctx, "p1"))
			_, err := s.GetPrompt(ctx, "p1")
			assert.ErrorIs(t, err, core.ErrNotFound)
			_, err = s.ListVersions(ctx, "p1")
			assert.ErrorIs(t, err, core.ErrNotFound)
			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.ErrorIs(t, s.DeletePrompt(ctx, "p1"), core.ErrNotFound)

			// Name and ids are free again.
			insert(t, s, "p1", "doomed", base, nil)
			got, err := s.GetPromptByName(ctx, "doomed")
			require.NoError(t, err)
			assert.Empty(t, got.Tags)
		})
	}
}

func TestStore_UpdatePrompt(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			insert(t, s, "p1", "mutable", base, func(p *core.Prompt, v *core.PromptVersion) {
				p.Tags = []string{"old"}
			})
			p, err := s.GetPrompt(ctx, "p1")
			require.NoError(t, err)
			at := base.Add(time.Hour)
			p.DisplayName = "Renamed"
			p.Description = "now described"
			p.Tags = []string{"new", "tags"}
			p.Status = core.PromptArchived
			p.UpdatedAt = at
			require.NoError(t, s.UpdatePrompt(ctx, p))

			got, err := s.GetPrompt(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.DisplayName)
			assert.Equal(t, "now described", got.Description)
			assert.Equal(t, []string{"new", "tags"}, got.Tags)
			assert.Equal(t, core.PromptArchived, got.Status)
			assert.True(t, at.Equal(got.UpdatedAt))
			assert.Equal(t, "mutable", got.Name)

			tagged, err := s.QueryPrompts(ctx, Query{Tags: []string{"old"}})
			require.NoError(t, err)
			assert.Empty(t, tagged)

			err = s.UpdatePrompt(ctx, &core.Prompt{ID: "missing"})
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	insert(t, s, "p1", "copy", base, func(p *core.Prompt, v *core.PromptVersion) {
		p.Tags = []string{"a"}
	})
	got, err := s.GetPrompt(ctx, "p1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"
	got.CurrentVersion.Content = "mutated"

	again, err := s.GetPrompt(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Tags)
	assert.Equal(t, "content of copy", again.Content())
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedisStore(client, "")
	mr.Close()

	_, err := s.GetPrompt(context.Background(), "p1")
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestRedisStore_NameClaimedWithRecords(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client, "t")

	insert(t, s, "a", "first", base, nil)
	got, err := mr.Get("t:name:first")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	p, v := newRecord("b", "second", base)
	v.ID = "a-v1"
	p.CurrentVersionID = v.ID
	assert.ErrorIs(t, s.Insert(ctx, p, v), core.ErrConflict)
	assert.False(t, mr.Exists("t:name:second"), "rejected insert must not claim its name")
	assert.False(t, mr.Exists("t:prompt:b"))

	p, v = newRecord("b", "second", base)
	require.NoError(t, s.Insert(ctx, p, v))
	_, err = s.GetPromptByName(ctx, "second")
	assert.NoError(t, err)
}
