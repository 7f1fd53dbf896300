package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"voice-id/internal/app"
	"voice-id/internal/logger"
	"voice-id/internal/profilestore"
)

type rootOptions struct {
	dir      string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "profilectl",
		Short:         "Inspect and maintain speaker profile files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "profile directory (default $PROFILE_STORAGE_DIR)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newListCmd(opts),
		newStatsCmd(opts),
		newInspectCmd(opts),
		newBackupCmd(opts),
		newExportCmd(opts),
		newCleanupCmd(opts),
		newRemoveCmd(opts),
	)
	return root
}

// build hydrates a registry from the profile directory so orphan
// classification sees every speaker on disk.
func build(cmd *cobra.Command, opts *rootOptions) (app.Deps, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Deps{}, err
	}
	if opts.dir != "" {
		cfg.StorageDir = opts.dir
	}
	if cfg.StorageDir == "" {
		return app.Deps{}, errors.New("profile directory is required, use --dir or PROFILE_STORAGE_DIR")
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel)
	return app.BuildWith(cmd.Context(), cfg, log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.Close()

			type entry struct {
				SpeakerID   string `json:"speaker_id"`
				SampleCount int    `json:"sample_count"`
				Dimension   int    `json:"dimension"`
			}
			out := []entry{}
			for _, id := range deps.Registry.Speakers() {
				stats, _ := deps.Registry.Stats(id)
				out = append(out, entry{SpeakerID: id, SampleCount: stats.Count, Dimension: stats.Dimension})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.Close()
			return printJSON(cmd.OutOrStdout(), deps.Registry.StorageStats())
		},
	}
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode one profile file",
		Long: `Decode one profile file and print its speaker id, samples and metadata.

The file does not have to live in the profile directory.

Examples:
  profilectl inspect data/profiles/alice.profile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel)
			st, err := profilestore.New(filepath.Dir(path), profilestore.WithLogger(log))
			if err != nil {
				return err
			}
			p, ok := st.Load(path)
			if !ok {
				return fmt.Errorf("cannot decode profile %s", path)
			}
			dim := 0
			if len(p.Embeddings) > 0 {
				dim = p.Embeddings[0].Dim()
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"speaker_id": p.SpeakerID,
				"path":       p.Path,
				"dimension":  dim,
				"metadata":   p.Metadata,
				"embeddings": p.Embeddings,
			})
		},
	}
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy every profile file to a backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.Close()
			if target == "" {
				target = deps.Config.BackupDir
			}
			if !deps.Registry.Backup(target) {
				return errors.New("backup failed, see log")
			}
			if target == "" {
				target = filepath.Join(deps.Store.Dir(), profilestore.BackupDirName)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"backed_up": true, "target": target})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "backup directory (default <dir>/backup or $BACKUP_DIR)")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the profile metadata document and optionally write it to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.Close()
			if output == "" {
				output = deps.Config.MetadataExportPath
			}
			return printJSON(cmd.OutOrStdout(), deps.Registry.ExportMetadata(cmd.Context(), output))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the export to")
	return cmd
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete profile files that no loadable speaker owns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.Close()
			return printJSON(cmd.OutOrStdout(), map[string]int{"removed": deps.Registry.CleanupOrphans()})
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <speaker-id>",
		Short: "Forget a speaker and delete its profile file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.Close()
			if err := deps.Registry.ClearSpeaker(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"removed": args[0]})
		},
	}
}
