package main

import (
	"github.com/klejdi94/promptlib/config"
	"github.com/klejdi94/promptlib/snapshot"
	"github.com/spf13/cobra"
)

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write every prompt and version to the snapshot location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := config.OpenBlobStore(cmd.Context(), a.cfg.Snapshot)
			if err != nil {
				return err
			}
			m, err := snapshot.Export(cmd.Context(), a.mgr.Store(), blob, snapshot.Options{Logger: a.log})
			if err != nil {
				return err
			}
			return a.print(m)
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Restore prompts from the snapshot location",
		Long:  "Restore prompts from the snapshot location. Prompts whose name already exists are skipped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := config.OpenBlobStore(cmd.Context(), a.cfg.Snapshot)
			if err != nil {
				return err
			}
			res, err := snapshot.Import(cmd.Context(), a.mgr.Store(), blob, snapshot.Options{Logger: a.log})
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
}
