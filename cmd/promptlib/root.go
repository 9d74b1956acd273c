package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klejdi94/promptlib/config"
	"github.com/klejdi94/promptlib/core"
	"github.com/klejdi94/promptlib/library"
	"github.com/klejdi94/promptlib/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	cfgFile string
	out     io.Writer

	cfg     *config.Config
	log     *zap.Logger
	mgr     *library.Manager
	closeFn func() error
}

// execute runs one invocation and releases the store whether or not the
// command succeeded.
func execute(ctx context.Context, out io.Writer, stdin io.Reader, args []string) error {
	a := &app{out: out}
	cmd := a.rootCmd()
	cmd.SetIn(stdin)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "promptlib",
		Short: "Versioned prompt library",
		Long: `promptlib stores prompts, snippets and FAQ entries with an immutable
version history, lists them by recency and searches them by relevance.

The store backend (memory, sqlite, postgres, redis) is selected in
promptlib.yaml or with PROMPTLIB_STORE_BACKEND.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./promptlib.yaml or ~/.promptlib/promptlib.yaml)")

	root.AddCommand(
		a.createCmd(),
		a.getCmd(),
		a.updateCmd(),
		a.statusCmd("archive", "Archive a prompt", (*library.Manager).Archive),
		a.statusCmd("restore", "Restore an archived prompt", (*library.Manager).Restore),
		a.listCmd(),
		a.searchCmd(),
		a.versionsCmd(),
		a.addVersionCmd(),
		a.transitionCmd("submit", "Submit a draft version for approval"),
		a.transitionCmd("approve", "Approve a version and make it current"),
		a.transitionCmd("reject", "Reject a pending version"),
		a.transitionCmd("deprecate", "Deprecate an approved version"),
		a.exportCmd(),
		a.importCmd(),
		a.seedCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	store, closeFn, err := config.OpenStore(cmd.Context(), cfg.Store, nil)
	if err != nil {
		return err
	}
	log.Debug("store opened", zap.String("backend", store.Kind()))
	a.cfg, a.log, a.closeFn = cfg, log, closeFn
	a.mgr = library.NewManager(store,
		library.WithLogger(log),
		library.WithLimits(cfg.Paging.ListLimit, cfg.Paging.SearchLimit))
	return nil
}

func (a *app) close() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.closeFn == nil {
		return nil
	}
	closeFn := a.closeFn
	a.closeFn = nil
	return closeFn()
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolve looks a prompt up by id, then by name.
func (a *app) resolve(cmd *cobra.Command, ref string) (*core.Prompt, error) {
	p, err := a.mgr.Get(cmd.Context(), ref)
	if errors.Is(err, core.ErrNotFound) {
		p, err = a.mgr.GetByName(cmd.Context(), ref)
	}
	if err != nil {
		return nil, fmt.Errorf("prompt %q: %w", ref, err)
	}
	return p, nil
}

// readContent returns the inline content, or the contents of file ("-" reads
// stdin).
func readContent(cmd *cobra.Command, content, file string) (string, error) {
	if file == "" {
		return content, nil
	}
	if content != "" {
		return "", errors.New("--content and --file are mutually exclusive")
	}
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func parseVersion(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, &core.ValidationError{Field: "version", Value: s, Message: "must be a positive integer"}
	}
	return n, nil
}
