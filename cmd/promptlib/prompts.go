package main

import (
	"context"
	"strings"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/library"
	"github.com/spf13/cobra"
)

func (a *app) createCmd() *cobra.Command {
	var (
		p    library.CreateParams
		file string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a prompt with an approved first version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, p.Content, file)
			if err != nil {
				return err
			}
			p.Name, p.Content = args[0], content
			created, err := a.mgr.Create(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(created)
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.DisplayName, "display", "", "display name (default: NAME)")
	f.StringVar(&p.Description, "description", "", "description")
	f.StringVar(&p.ItemType, "type", "", "item type: prompt, snippet or faq")
	f.StringSliceVar(&p.Tags, "tag", nil, "tag (repeatable)")
	f.StringVar(&p.Content, "content", "", "version content")
	f.StringVar(&file, "file", "", "read content from file (- for stdin)")
	f.StringVar(&p.Notes, "notes", "", "version notes")
	f.StringVar(&p.CreatedBy, "by", "", "author")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID|NAME",
		Short: "Show a prompt and its current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}
}

func (a *app) updateCmd() *cobra.Command {
	var (
		display, description, itemType string
		tags                           []string
	)
	cmd := &cobra.Command{
		Use:   "update ID|NAME",
		Short: "Change prompt fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			u := library.UpdateParams{ItemType: itemType, Tags: tags}
			if cmd.Flags().Changed("display") {
				u.DisplayName = &display
			}
			if cmd.Flags().Changed("description") {
				u.Description = &description
			}
			updated, err := a.mgr.Update(cmd.Context(), p.ID, u)
			if err != nil {
				return err
			}
			return a.print(updated)
		},
	}
	f := cmd.Flags()
	f.StringVar(&display, "display", "", "display name")
	f.StringVar(&description, "description", "", "description")
	f.StringVar(&itemType, "type", "", "item type: prompt, snippet or faq")
	f.StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	return cmd
}

func (a *app) statusCmd(use, short string, apply func(*library.Manager, context.Context, string) (*core.Prompt, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID|NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			p, err = apply(a.mgr, cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var p library.ListParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts, most recently updated first",
		Long: `List prompts ordered by last update, newest first. When more results
exist the output carries next_cursor; pass it back with --cursor to read
the following page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.mgr.List(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(page)
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Since, "since", "", "only prompts updated after this RFC 3339 timestamp")
	f.StringVar(&p.Cursor, "cursor", "", "next_cursor of the previous page")
	f.IntVar(&p.Limit, "limit", 0, "page size (default from config)")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var (
		p        library.SearchParams
		itemType string
		items    bool
	)
	cmd := &cobra.Command{
		Use:   "search [QUERY...]",
		Short: "Search prompts by relevance",
		Long: `Search ranks matches on display name, tags and current content. An empty
query lists the most recent prompts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Query = strings.Join(args, " ")
			if itemType != "" {
				t, err := core.ParseItemType(itemType)
				if err != nil {
					return err
				}
				p.ItemType = t
			}
			if items {
				found, err := a.mgr.SearchItems(cmd.Context(), p)
				if err != nil {
					return err
				}
				return a.print(found)
			}
			found, err := a.mgr.Search(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(found)
		},
	}
	f := cmd.Flags()
	f.IntVar(&p.Limit, "limit", 0, "maximum results (default from config)")
	f.StringVar(&itemType, "type", "", "only this item type")
	f.StringSliceVar(&p.Tags, "tag", nil, "require tag (repeatable)")
	f.BoolVar(&items, "items", false, "print flattened library items")
	return cmd
}

func (a *app) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo items into an empty library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.mgr.Seed(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
}
