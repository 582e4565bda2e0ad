package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/forge/internal/config"
	"github.com/HendryAvila/forge/internal/logging"
	"github.com/HendryAvila/forge/internal/server"
	"github.com/HendryAvila/forge/internal/snapshot"
)

// cliFlags are shared by every subcommand.
type cliFlags struct {
	configPath string
	dataDir    string
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Concurrent text change pipeline with classified, versioned commits",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Path to forge.toml (default: <data-dir>/forge.toml when present)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "",
		"Workspace data directory (overrides config and FORGE_DATA_DIR)")

	root.AddCommand(
		newServeCmd(flags),
		newHistoryCmd(flags),
		newDiffCmd(flags),
		newBranchesCmd(flags),
		newVersionCmd(),
	)
	return root
}

func (f *cliFlags) load() (*config.Config, error) {
	path := f.configPath
	if path == "" && f.dataDir != "" {
		candidate := filepath.Join(f.dataDir, config.DefaultFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	return cfg, nil
}

// openStore opens only the snapshot database. Read commands use it so they
// can run next to a serving process that holds the journal lock.
func (f *cliFlags) openStore() (*snapshot.Store, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	return snapshot.New(snapshot.Config{DataDir: cfg.StorePath()})
}

// ─── serve ──────────────────────────────────────────────────────────────────

func newServeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ws, err := server.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("opening workspace: %w", err)
			}
			defer func() {
				if err := ws.Close(); err != nil {
					logger.Warn().Err(err).Msg("closing workspace")
				}
			}()

			logger.Info().Str("data_dir", cfg.DataDir).Msg("serving on stdio")
			return mcpserver.ServeStdio(server.New(ws))
		},
	}
}

// ─── history ────────────────────────────────────────────────────────────────

func newHistoryCmd(flags *cliFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [branch]",
		Short: "List snapshots of a branch, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			branch := ""
			if len(args) == 1 {
				branch = args[0]
			}
			snaps, err := store.History(cmd.Context(), branch, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), snaps)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum snapshots to show (0 for all)")
	return cmd
}

func printHistory(w io.Writer, snaps []snapshot.Snapshot) {
	for _, s := range snaps {
		marker := ""
		if len(s.Parents) > 1 {
			marker = " (merge)"
		}
		fmt.Fprintf(w, "%s  %s  %s%s\n", shortID(s.ID), s.Timestamp.UTC().Format("2006-01-02 15:04:05"), s.Message, marker)
	}
}

// ─── diff ───────────────────────────────────────────────────────────────────

func newDiffCmd(flags *cliFlags) *cobra.Command {
	var stat bool
	cmd := &cobra.Command{
		Use:   "diff <from> [to]",
		Short: "Show unified diffs between two branches or snapshots",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			to := ""
			if len(args) == 2 {
				to = args[1]
			}
			diffs, err := store.Diff(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range diffs {
				if !stat {
					fmt.Fprint(out, d.Unified())
					continue
				}
				st, err := d.Stats()
				if err != nil {
					return fmt.Errorf("diff stats for %s: %w", d.Path, err)
				}
				fmt.Fprintf(out, "%s  +%d ~%d -%d\n", d.Path, st.Added, st.Changed, st.Deleted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stat, "stat", false, "Print per-file line counts instead of diffs")
	return cmd
}

// ─── branches ───────────────────────────────────────────────────────────────

func newBranchesCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return printBranches(cmd.Context(), cmd.OutOrStdout(), store)
		},
	}
}

func printBranches(ctx context.Context, w io.Writer, store *snapshot.Store) error {
	branches, err := store.Branches(ctx)
	if err != nil {
		return err
	}
	for _, b := range branches {
		mark := " "
		if b.Current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, b.Name, shortID(b.Head))
	}
	return nil
}

// ─── version ────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "forge v%s\n", server.Version)
		},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
