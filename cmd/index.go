package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/physicalai/tutor/internal/app"
	"github.com/physicalai/tutor/internal/config"
	"github.com/physicalai/tutor/internal/log"
)

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Chunk, embed, and index a directory of markdown chapters",
	Long: `Index walks the directory for .md files, splits each into
passage-sized chunks, embeds them, and stores them for retrieval. The
chapter ID is the file name without extension. Re-indexing a chapter
replaces its previous passages.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(args[0])
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: logLevelFromEnv()})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if closeErr := a.Close(closeCtx); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	res, err := a.Indexer.IndexDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("indexing %q: %w", dir, err)
	}

	total, err := a.Passages.Count(ctx)
	if err != nil {
		logger.Warn("counting passages failed", "error", err)
	}

	fmt.Printf("Indexed %d chapters (%d passages) in %s\n",
		res.ChaptersIndexed, res.PassagesIndexed, res.Duration.Round(time.Millisecond))
	if res.ChaptersFailed > 0 {
		fmt.Printf("Failed chapters: %d (see logs)\n", res.ChaptersFailed)
	}
	if total > 0 {
		fmt.Printf("Total passages in store: %d\n", total)
	}
	return nil
}
