package main

import (
	"context"
	"fmt"

	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/library"
	"github.com/spf13/cobra"
)

func (a *app) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions ID|NAME",
		Short: "List all versions of a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			vs, err := a.mgr.ListVersions(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			return a.print(vs)
		},
	}
}

func (a *app) addVersionCmd() *cobra.Command {
	var (
		p    library.VersionParams
		file string
	)
	cmd := &cobra.Command{
		Use:   "add-version ID|NAME",
		Short: "Append a draft version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, p.Content, file)
			if err != nil {
				return err
			}
			p.Content = content
			prompt, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			v, err := a.mgr.AddVersion(cmd.Context(), prompt.ID, p)
			if err != nil {
				return err
			}
			return a.print(v)
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Content, "content", "", "version content")
	f.StringVar(&file, "file", "", "read content from file (- for stdin)")
	f.StringVar(&p.Notes, "notes", "", "version notes")
	f.StringVar(&p.CreatedBy, "by", "", "author")
	f.BoolVar(&p.Submit, "submit", false, "create as pending approval")
	return cmd
}

// transitionCmd builds one of the version lifecycle commands.
func (a *app) transitionCmd(name, short string) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   name + " ID|NAME VERSION",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			p, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			v, err := a.transition(cmd.Context(), name, p.ID, n, approver)
			if err != nil {
				return err
			}
			return a.print(v)
		},
	}
	if name == "approve" {
		cmd.Flags().StringVar(&approver, "by", "", "approver")
	}
	return cmd
}

func (a *app) transition(ctx context.Context, name, promptID string, n int, approver string) (*core.PromptVersion, error) {
	switch name {
	case "submit":
		return a.mgr.SubmitVersion(ctx, promptID, n)
	case "approve":
		return a.mgr.ApproveVersion(ctx, promptID, n, approver)
	case "reject":
		return a.mgr.RejectVersion(ctx, promptID, n)
	case "deprecate":
		return a.mgr.DeprecateVersion(ctx, promptID, n)
	}
	return nil, fmt.Errorf("unknown transition %q", name)
}
