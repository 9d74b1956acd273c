// Package snapshot exports a store's prompts and their full version history
// to a BlobStore and imports them back.
//
// Layout: manifest.json lists the exported prompt ids; prompts/<id>.json holds
// one Document per prompt.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/registry"
	"go.uber.org/zap"
)

const (
	ManifestKey   = "manifest.json"
	promptsPrefix = "prompts/"
	formatVersion = 1
)

// Document is one exported prompt with all of its versions in ascending order.
type Document struct {
	Prompt   *core.Prompt          `json:"prompt"`
	Versions []*core.PromptVersion `json:"versions"`
}

// Manifest describes a snapshot.
type Manifest struct {
	Format     int       `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
	Source     string    `json:"source"`
	PromptIDs  []string  `json:"prompt_ids"`
}

// ImportResult reports what Import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Options configures Export and Import.
type Options struct {
	Logger *zap.Logger
	// Now stamps the manifest; defaults to time.Now.
	Now func() time.Time
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func promptKey(id string) string { return promptsPrefix + id + ".json" }

// Export writes every prompt in store to blob. The manifest is written last
// so an interrupted export is never mistaken for a complete one.
func Export(ctx context.Context, store registry.Store, blob BlobStore, opts Options) (*Manifest, error) {
	log := opts.logger()
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	prompts, err := store.QueryPrompts(ctx, registry.Query{})
	if err != nil {
		return nil, err
	}
	m := &Manifest{Format: formatVersion, ExportedAt: core.Timestamp(now()), Source: store.Kind(), PromptIDs: []string{}}
	for _, p := range prompts {
		versions, err := store.ListVersions(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", p.Name, err)
		}
		doc := Document{Prompt: p.Copy(), Versions: versions}
		doc.Prompt.CurrentVersion = nil
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := blob.Put(ctx, promptKey(p.ID), data); err != nil {
			return nil, fmt.Errorf("export %s: %w", p.Name, err)
		}
		m.PromptIDs = append(m.PromptIDs, p.ID)
		log.Debug("prompt exported", zap.String("prompt_id", p.ID), zap.Int("versions", len(versions)))
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := blob.Put(ctx, ManifestKey, data); err != nil {
		return nil, fmt.Errorf("export manifest: %w", err)
	}
	log.Info("snapshot exported", zap.String("source", m.Source), zap.Int("prompts", len(m.PromptIDs)))
	return m, nil
}

// ReadManifest loads the snapshot manifest from blob.
func ReadManifest(ctx context.Context, blob BlobStore) (*Manifest, error) {
	data, err := blob.Get(ctx, ManifestKey)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Format != formatVersion {
		return nil, &core.ValidationError{Field: "format", Value: m.Format, Message: fmt.Sprintf("unsupported snapshot format (want %d)", formatVersion)}
	}
	return &m, nil
}

// Import restores the snapshot in blob into store. Prompts whose name already
// exists in store are skipped. Ids, version numbers, statuses and timestamps
// are preserved.
func Import(ctx context.Context, store registry.Store, blob BlobStore, opts Options) (*ImportResult, error) {
	log := opts.logger()
	m, err := ReadManifest(ctx, blob)
	if err != nil {
		return nil, err
	}
	res := &ImportResult{}
	for _, id := range m.PromptIDs {
		data, err := blob.Get(ctx, promptKey(id))
		if err != nil {
			return res, fmt.Errorf("import %s: %w", id, err)
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return res, fmt.Errorf("decode %s: %w", id, err)
		}
		err = restore(ctx, store, &doc)
		if errors.Is(err, core.ErrDuplicateName) || errors.Is(err, core.ErrConflict) {
			res.Skipped++
			log.Info("prompt skipped", zap.String("prompt_id", id), zap.Error(err))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("import %s: %w", id, err)
		}
		res.Imported++
	}
	log.Info("snapshot imported", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
	return res, nil
}

func restore(ctx context.Context, store registry.Store, doc *Document) error {
	p := doc.Prompt
	if p == nil || len(doc.Versions) == 0 {
		return &core.ValidationError{Field: "versions", Message: "document has no prompt or versions"}
	}
	first := doc.Versions[0]
	currentID := p.CurrentVersionID
	var current *core.PromptVersion
	for _, v := range doc.Versions {
		if v.ID == currentID {
			current = v
		}
	}
	if current == nil {
		return &core.ValidationError{Field: "current_version_id", Value: currentID, Message: "not among the document's versions"}
	}

	p.CurrentVersionID = first.ID
	if err := store.Insert(ctx, p, first); err != nil {
		return err
	}
	if err := restoreHistory(ctx, store, p, doc.Versions[1:], current); err != nil {
		// Remove the partial history so a later import can retry the prompt.
		if derr := store.DeletePrompt(ctx, p.ID); derr != nil {
			return errors.Join(err, fmt.Errorf("roll back %s: %w", p.Name, derr))
		}
		return err
	}
	return nil
}

func restoreHistory(ctx context.Context, store registry.Store, p *core.Prompt, rest []*core.PromptVersion, current *core.PromptVersion) error {
	for _, v := range rest {
		want := v.VersionNumber
		if err := store.AppendVersion(ctx, v); err != nil {
			return err
		}
		if v.VersionNumber != want {
			return fmt.Errorf("version %d of %s restored as %d", want, p.Name, v.VersionNumber)
		}
	}
	if current.ID == p.CurrentVersionID {
		return nil
	}
	return store.UpdateVersion(ctx, current, true, p.UpdatedAt)
}
