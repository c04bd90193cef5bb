package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shoko-reader/shoko/internal/cache"
	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/logging"
	"github.com/shoko-reader/shoko/internal/zipreader"
)

var (
	scanTimeoutArg time.Duration
	scanJobsArg    int
)

const scanTemplate = `` +
	`{{ string . "prefix" | printf "%-12v" }}` +
	`{{ bar . "|" "█" "▌" " " "|" }}` + `{{ " " }}` +
	`{{ counters . | printf "%-15v" }}` + `{{ " |" }}`

var scanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Pre-ingest every EPUB under a directory into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(args[0])
	},
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeoutArg, "timeout", 10*time.Second, "filesystem scan budget")
	scanCmd.Flags().IntVar(&scanJobsArg, "jobs", 4, "parallel ingestions")
}

func runScan(dir string) error {
	clk := clock.New()
	store := cache.NewStore(config.CacheDir(), clk)
	limits := zipreader.DefaultLimits()

	paths, err := findEpubs(dir, scanTimeoutArg)
	if err != nil {
		return fmt.Errorf("scan %q: %w", dir, err)
	}
	if len(paths) == 0 {
		fmt.Println("No EPUB files found.")
		return nil
	}

	bar := pb.New(len(paths)).SetTemplate(pb.ProgressBarTemplate(scanTemplate))
	bar.Set("prefix", "Ingesting")
	bar.Start()
	defer bar.Finish()

	// Workers ingest in parallel; the store serialises writes per sha.
	var group errgroup.Group
	group.SetLimit(scanJobsArg)
	for _, p := range paths {
		p := p
		group.Go(func() error {
			defer bar.Increment()
			sha, err := cache.DigestFile(p)
			if err != nil {
				logging.Errorf("scan", err)
				return nil
			}
			if _, err := store.FetchPayload(sha); err == nil {
				return nil
			}
			book, chapters, err := epub.Ingest(p, limits)
			if err != nil {
				logging.Errorf("scan", fmt.Errorf("%v: %w", p, err))
				return nil
			}
			var mtime int64
			if info, statErr := os.Stat(p); statErr == nil {
				mtime = info.ModTime().Unix()
			}
			payload := &cache.Payload{
				Row: cache.BookRow{
					SourceSHA:   sha,
					SourcePath:  p,
					SourceMtime: mtime,
					GeneratedAt: clk.Now().UTC().Format(time.RFC3339),
				},
				Book:      book,
				Chapters:  chapters,
				Resources: book.Resources,
			}
			if err := store.StorePayload(sha, payload); err != nil {
				logging.Errorf("scan", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// findEpubs walks dir for .epub files within the time budget. When the
// budget runs out the paths found so far are returned.
func findEpubs(dir string, budget time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".epub") {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
