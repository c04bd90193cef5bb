// Package cmd wires the command line interface to the reader engine.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shoko-reader/shoko/internal/cache"
	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/logging"
	"github.com/shoko-reader/shoko/internal/reader"
	"github.com/shoko-reader/shoko/internal/render"
	"github.com/shoko-reader/shoko/internal/term"
	"github.com/shoko-reader/shoko/internal/zipreader"
)

var (
	debugArg    bool
	logPathArg  string
	logLevelArg string
	profileArg  string
)

// errInvalidPath distinguishes exit code 2 from general failures.
var errInvalidPath = errors.New("invalid path")

var rootCmd = &cobra.Command{
	Use:           "shoko [flags] [path]",
	Short:         "A terminal reader for EPUB books",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if profileArg != "" {
			f, err := os.Create(profileArg)
			if err != nil {
				return fmt.Errorf("profile: %w", err)
			}
			pprof.StartCPUProfile(f)
			defer func() {
				pprof.StopCPUProfile()
				f.Close()
			}()
		}

		if len(args) == 0 {
			return printLibrary()
		}
		return openBook(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugArg, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logPathArg, "log", "", "JSON log file path")
	rootCmd.PersistentFlags().StringVar(&logLevelArg, "log-level", "", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVar(&profileArg, "profile", "", "write CPU profile to file")
	rootCmd.AddCommand(scanCmd)
}

func setupLogging() error {
	level := logLevelArg
	if level == "" {
		level = os.Getenv("SHOKO_LOG_LEVEL")
	}
	if level == "" && (debugArg || os.Getenv("DEBUG") == "1") {
		level = "debug"
	}
	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	logging.SetLevel(parsed)

	logPath := logPathArg
	if logPath == "" {
		logPath = os.Getenv("SHOKO_LOG_PATH")
	}
	if logPath != "" {
		if err := logging.SetFile(logPath); err != nil {
			return err
		}
	}
	if profileArg == "" {
		profileArg = os.Getenv("SHOKO_PROFILE_PATH")
	}
	return nil
}

func buildDeps() (*cache.Coordinator, *reader.UserData, clock.Clock, error) {
	clk := clock.New()
	store := cache.NewStore(config.CacheDir(), clk)
	coord, err := cache.NewCoordinator(store, epub.Ingest, zipreader.DefaultLimits(), clk)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coordinator: %w", err)
	}
	userData := reader.LoadUserData(config.ConfigDir(), clk)
	return coord, userData, clk, nil
}

func openBook(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %q", errInvalidPath, path)
	}

	coord, userData, clk, err := buildDeps()
	if err != nil {
		return err
	}

	var port term.Port
	if os.Getenv("SHOKO_TEST_MODE") == "1" {
		port = term.NewRecorder(term.FallbackRows, term.FallbackCols)
	} else {
		port = term.NewOSPort()
	}

	deps := reader.Deps{
		Port:        port,
		Coordinator: coord,
		Config:      config.Load(),
		UserData:    userData,
		Clock:       clk,
		Graphics:    render.GraphicsSupported(),
	}
	return reader.Run(path, deps)
}

func printLibrary() error {
	coord, userData, _, err := buildDeps()
	if err != nil {
		return err
	}
	rows, err := coord.Store().ListBooks()
	if err != nil {
		return err
	}
	if len(rows) == 0 && len(userData.Recent) == 0 {
		fmt.Println("Library is empty. Open a book with: shoko <file.epub>")
		return nil
	}
	if len(userData.Recent) > 0 {
		color.New(color.Bold).Println("Recent")
		for _, p := range userData.Recent {
			fmt.Printf("  %s\n", p)
		}
	}
	if len(rows) > 0 {
		color.New(color.Bold).Println("Cached books")
		for _, row := range rows {
			fmt.Printf("  %s  %s\n", color.CyanString("%.16s", row.SourceSHA), row.Title)
		}
	}
	return nil
}

// Execute runs the CLI and maps errors to exit codes.
func Execute() {
	defer logging.CloseFile()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errInvalidPath) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
