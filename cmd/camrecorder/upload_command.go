package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/segment"
	"camrecorder/internal/services/kinescope"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var title string
	var skipJournal bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload one recording to Kinescope",
		Long: "Upload one recording outside the recorder loop. The result is written to the upload journal " +
			"so a running or future recorder does not upload the same file again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			if strings.TrimSpace(title) == "" {
				title = segment.Title(path)
			}

			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: "console", OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}

			var store *journal.Store
			if !skipJournal {
				if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
					return fmt.Errorf("create state dir: %w", err)
				}
				store, err = journal.Open(cfg.JournalPath())
				if err != nil {
					return err
				}
				defer store.Close()
				if entry, err := store.Get(cmd.Context(), path); err == nil && entry.Status == journal.StatusUploaded {
					return fmt.Errorf("%s was already uploaded: %s", filepath.Base(path), entry.PlaybackRef)
				} else if err != nil && !errors.Is(err, journal.ErrNotFound) {
					return err
				}
				if err := store.Record(cmd.Context(), path, title, "", info.Size(), journal.StatusInFlight); err != nil {
					return err
				}
			}

			client := kinescope.NewConfiguredClient(cfg, logger)
			video, uploadErr := client.Upload(cmd.Context(), path, title)
			if store != nil {
				if uploadErr != nil {
					if err := store.MarkFailed(cmd.Context(), path, 1, uploadErr.Error()); err != nil {
						logger.Warn("journal update failed", logging.Error(err))
					}
				} else if err := store.MarkUploaded(cmd.Context(), path, video.ID, video.Ref(), 1); err != nil {
					logger.Warn("journal update failed", logging.Error(err))
				}
			}
			if uploadErr != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(path), uploadErr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %q: %s\n", title, video.Ref())
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Video title (defaults to the file name)")
	cmd.Flags().BoolVar(&skipJournal, "no-journal", false, "Do not record the upload in the journal")
	return cmd
}
