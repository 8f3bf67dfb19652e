package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/logging"
	"github.com/byteowlz/pinscrpr/internal/server"
	"github.com/byteowlz/pinscrpr/pkg/pinscrpr"
)

// Exit codes for granular error handling
const (
	ExitSuccess      = 0
	ExitProcessError = 2
	ExitInvalidInput = 3
	ExitConfigError  = 4
	ExitFileIOError  = 5
	ExitPartialError = 6 // some keywords failed, some succeeded
)

var (
	cfgFile      string
	outputFile   string
	outputFormat string
	file         string
	progress     bool
	verbose      bool
	quiet        bool
	headless     bool
	noAI         bool
	batchSize    int
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "pinscrpr [keywords...]",
	Short: "Generate Pinterest SEO pin content for keywords",
	Long: `pinscrpr drives a keyword export site and a chat assistant in a real browser,
turns the assistant's reply into pin titles, descriptions and text overlays,
and falls back to a generation API when scraping does not work out.`,
	Version:       version,
	RunE:          run,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitErr
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitInvalidInput)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/pinscrpr/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all non-result output")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write results to file (default: stdout)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "json", "output format (json|text)")

	rootCmd.Flags().StringVarP(&file, "file", "f", "", "read keywords from file (one per line)")
	rootCmd.Flags().BoolVar(&progress, "progress", true, "print progress lines to stderr")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "keywords per assistant browser session (0 = config)")
	rootCmd.Flags().BoolVar(&noAI, "no-ai", false, "disable the generation API (no structured parse, no fallback)")

	rootCmd.AddCommand(parseCmd, generateCmd, resultsCmd, watchCmd, configCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(ExitConfigError, "failed to load config: %v", err)
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if batchSize > 0 {
		cfg.Pipeline.BatchSize = batchSize
	}
	if err := cfg.Validate(); err != nil {
		return exitError(ExitConfigError, "invalid config: %v", err)
	}

	keywords, err := collectKeywords(args)
	if err != nil {
		return exitError(ExitInvalidInput, "failed to collect keywords: %v", err)
	}
	if len(keywords) == 0 {
		return exitError(ExitInvalidInput, "no keywords provided")
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return exitError(ExitConfigError, "failed to set up logging: %v", err)
	}
	defer closeLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := pinscrpr.Options{Logger: logger, NoAI: noAI}
	if progress && !quiet {
		opts.Progress = printProgress(os.Stderr)
	}
	p, err := pinscrpr.New(ctx, cfg, opts)
	if err != nil {
		return exitError(ExitConfigError, "failed to set up pipeline: %v", err)
	}
	defer p.Close()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := server.Serve(ctx, cfg.Metrics.Addr, p.Handler(), logger); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	logger.Info().Int("keywords", len(keywords)).Msg("starting batch")
	results := p.Run(ctx, keywords)

	out, closeOut, err := openOutput()
	if err != nil {
		return exitError(ExitFileIOError, "%v", err)
	}
	defer closeOut()
	if err := writeResults(out, results); err != nil {
		return exitError(ExitFileIOError, "failed to write results: %v", err)
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	switch {
	case failed == 0:
		return nil
	case failed < len(results):
		return exitError(ExitPartialError, "%d of %d keywords failed", failed, len(results))
	default:
		return exitError(ExitProcessError, "all %d keywords failed", len(results))
	}
}

// loadConfig reads the config and creates the example file on first run.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		if path := config.DefaultConfigPath(); path != "" {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if createErr := config.Default().CreateExampleConfig(path); createErr == nil && !quiet {
					fmt.Fprintf(os.Stderr, "Created config file: %s\n", path)
				}
			}
		}
	}
	return config.Load(cfgFile)
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	return logging.New(cfg.Logging, verbose, quiet)
}

func collectKeywords(args []string) ([]string, error) {
	var keywords []string
	keywords = append(keywords, args...)

	if file != "" {
		fromFile, err := readKeywordsFromFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read keywords from file %s: %w", file, err)
		}
		keywords = append(keywords, fromFile...)
	}

	if len(args) == 0 && file == "" {
		fromStdin, err := readKeywordsFromStdin()
		if err != nil {
			return nil, fmt.Errorf("failed to read keywords from stdin: %w", err)
		}
		keywords = append(keywords, fromStdin...)
	}

	return cleanKeywords(keywords), nil
}

// cleanKeywords trims, drops comments and blanks, and removes
// case-insensitive duplicates keeping the first spelling.
func cleanKeywords(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, kw := range in {
		kw = strings.Join(strings.Fields(kw), " ")
		if kw == "" || strings.HasPrefix(kw, "#") {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out
}

func readKeywordsFromFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLines(f)
}

func readKeywordsFromStdin() ([]string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return nil, nil
	}
	return readLines(os.Stdin)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func openOutput() (io.Writer, func(), error) {
	if outputFile == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", outputFile, err)
	}
	return f, func() { f.Close() }, nil
}

func writeResults(w io.Writer, results []pinscrpr.Result) error {
	if outputFormat == "text" {
		for i, r := range results {
			if i > 0 {
				fmt.Fprintln(w, "---")
			}
			writeText(w, r)
		}
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeText(w io.Writer, r pinscrpr.Result) {
	fmt.Fprintf(w, "Keyword: %s\n", r.Keyword)
	if !r.Success {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
		return
	}
	fmt.Fprintf(w, "Source: %s\n", r.Source)
	for _, section := range []struct {
		name  string
		items []string
	}{
		{"Titles", r.Titles},
		{"Descriptions", r.Descriptions},
		{"Text Overlays", r.Overlays},
	} {
		if len(section.items) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", section.name)
		for i, item := range section.items {
			fmt.Fprintf(w, "%d. %s\n", i+1, item)
		}
	}
}

func printProgress(w io.Writer) func(pinscrpr.Event) {
	return func(e pinscrpr.Event) {
		line := fmt.Sprintf("[%d/%d] %s %s", e.Current, e.Total, e.Phase, e.Status)
		if e.Keyword != "" {
			line += " " + e.Keyword
		}
		if e.Message != "" {
			line += ": " + e.Message
		}
		fmt.Fprintln(w, line)
	}
}

type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string {
	return e.msg
}

func exitError(code int, format string, args ...any) *exitErr {
	msg := fmt.Sprintf(format, args...)
	if msg != "" && !quiet {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	}
	return &exitErr{code: code, msg: msg}
}
