package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/library"
	"github.com/klejdi94/promptlib/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a sqlite-backed config sharing snapDir for snapshots.
func writeConfig(t *testing.T, dir, snapDir string) string {
	t.Helper()
	path := filepath.Join(dir, "promptlib.yaml")
	body := fmt.Sprintf(`
store:
  backend: sqlite
  sqlite_path: %s
snapshot:
  dir: %s
log:
  mode: nop
`, filepath.Join(dir, "lib.db"), snapDir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, cfg string, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(context.Background(), &out, strings.NewReader(stdin), append([]string{"--config", cfg}, args...))
	return out.String(), err
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestCLI_Lifecycle(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), t.TempDir())

	out, err := run(t, cfg, "", "create", "greeter", "--display", "Greeter", "--content", "Hello", "--tag", "Onboarding")
	require.NoError(t, err)
	created := decode[core.Prompt](t, out)
	assert.Equal(t, "greeter", created.Name)
	assert.Equal(t, []string{"Onboarding"}, created.Tags)

	_, err = run(t, cfg, "", "create", "greeter", "--content", "again")
	assert.ErrorIs(t, err, core.ErrDuplicateName)

	out, err = run(t, cfg, "Hello there\n", "add-version", "greeter", "--file", "-", "--submit")
	require.NoError(t, err)
	v := decode[core.PromptVersion](t, out)
	assert.Equal(t, 2, v.VersionNumber)
	assert.Equal(t, core.VersionPendingApproval, v.Status)
	assert.Equal(t, "Hello there", v.Content)

	out, err = run(t, cfg, "", "get", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", decode[*core.Prompt](t, out).Content())

	_, err = run(t, cfg, "", "approve", "greeter", "2", "--by", "lead")
	require.NoError(t, err)

	out, err = run(t, cfg, "", "get", "greeter")
	require.NoError(t, err)
	got := decode[core.Prompt](t, out)
	assert.Equal(t, "Hello there", got.Content())
	assert.Equal(t, "lead", got.CurrentVersion.ApprovedBy)

	out, err = run(t, cfg, "", "versions", "greeter")
	require.NoError(t, err)
	assert.Len(t, decode[[]core.PromptVersion](t, out), 2)

	_, err = run(t, cfg, "", "reject", "greeter", "2")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = run(t, cfg, "", "approve", "greeter", "zero")
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = run(t, cfg, "", "get", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCLI_ListAndSearch(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), t.TempDir())

	out, err := run(t, cfg, "", "seed")
	require.NoError(t, err)
	seeded := decode[library.SeedResult](t, out)
	require.Positive(t, seeded.Inserted)

	out, err = run(t, cfg, "", "list", "--limit", "3")
	require.NoError(t, err)
	page := decode[library.Page](t, out)
	assert.Len(t, page.Items, 3)
	require.NotEmpty(t, page.NextCursor)

	out, err = run(t, cfg, "", "list", "--limit", "100", "--cursor", page.NextCursor)
	require.NoError(t, err)
	rest := decode[library.Page](t, out)
	assert.Len(t, rest.Items, seeded.Inserted-3)
	assert.Empty(t, rest.NextCursor)

	_, err = run(t, cfg, "", "list", "--cursor", "yesterday")
	assert.ErrorIs(t, err, core.ErrInvalidCursor)

	out, err = run(t, cfg, "", "search", "code", "review", "--items")
	require.NoError(t, err)
	items := decode[[]library.LibraryItem](t, out)
	require.NotEmpty(t, items)
	assert.Equal(t, "LLM Code Review", items[0].Title)
	assert.Equal(t, "sqlite", items[0].Source)

	_, err = run(t, cfg, "", "search", "x", "--type", "essay")
	assert.ErrorAs(t, err, new(*core.ValidationError))
}

func TestCLI_ExportImport(t *testing.T) {
	snap := t.TempDir()
	src := writeConfig(t, t.TempDir(), snap)
	dst := writeConfig(t, t.TempDir(), snap)

	_, err := run(t, src, "", "create", "one", "--content", "1")
	require.NoError(t, err)
	_, err = run(t, src, "", "create", "two", "--content", "2", "--type", "faq")
	require.NoError(t, err)

	out, err := run(t, src, "", "export")
	require.NoError(t, err)
	assert.Len(t, decode[snapshot.Manifest](t, out).PromptIDs, 2)

	out, err = run(t, dst, "", "import")
	require.NoError(t, err)
	assert.Equal(t, snapshot.ImportResult{Imported: 2}, decode[snapshot.ImportResult](t, out))

	out, err = run(t, dst, "", "get", "two")
	require.NoError(t, err)
	assert.Equal(t, core.ItemTypeFAQ, decode[core.Prompt](t, out).ItemType)
}

func TestCLI_ArchiveRestore(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), t.TempDir())
	_, err := run(t, cfg, "", "create", "p", "--content", "x")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "archive", "p")
	require.NoError(t, err)
	assert.Equal(t, core.PromptArchived, decode[core.Prompt](t, out).Status)

	out, err = run(t, cfg, "", "restore", "p")
	require.NoError(t, err)
	assert.Equal(t, core.PromptActive, decode[core.Prompt](t, out).Status)

	out, err = run(t, cfg, "", "update", "p", "--display", "Pretty", "--tag", "a,b")
	require.NoError(t, err)
	updated := decode[core.Prompt](t, out)
	assert.Equal(t, "Pretty", updated.DisplayName)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)
}

func TestReadContent_Exclusive(t *testing.T) {
	_, err := readContent((&app{}).rootCmd(), "inline", "file.txt")
	assert.Error(t, err)
}
