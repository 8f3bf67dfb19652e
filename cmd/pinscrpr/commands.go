package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/byteowlz/pinscrpr/internal/assistant"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/events"
	"github.com/byteowlz/pinscrpr/internal/parser"
	"github.com/byteowlz/pinscrpr/internal/store"
	"github.com/byteowlz/pinscrpr/pkg/pinscrpr"
)

var (
	parseKeyword string
	parseHTML    bool
	runID        string
	force        bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <reply.txt|->",
	Short: "Run the reply parser on a saved assistant reply",
	Long: `parse reads a raw reply (a file from the raw reply log, any text file, or "-"
for stdin) and prints what the parser chain extracts from it. With --html the
input is a saved conversation page and the reply is recovered from it first.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

var generateCmd = &cobra.Command{
	Use:   "generate <keyword>",
	Short: "Generate pin content from the keyword alone, without a browser",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

var resultsCmd = &cobra.Command{
	Use:   "results [keyword]",
	Short: "Show results saved in the result store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResults,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print progress events published to NATS by a running batch",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the example configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	parseCmd.Flags().StringVarP(&parseKeyword, "keyword", "k", "", "keyword the reply was generated for (default: from the raw log header)")
	parseCmd.Flags().BoolVar(&parseHTML, "html", false, "input is a saved conversation page")
	parseCmd.Flags().BoolVar(&noAI, "no-ai", false, "skip the structured parse step")

	resultsCmd.Flags().StringVar(&runID, "run", "", "only list results of this run ID")

	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
}

func readInput(arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(arg)
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(ExitConfigError, "failed to load config: %v", err)
	}
	data, err := readInput(args[0])
	if err != nil {
		return exitError(ExitFileIOError, "failed to read %s: %v", args[0], err)
	}

	keyword := parseKeyword
	var text string
	if parseHTML {
		text, err = assistant.ReadabilityText(string(data))
		if err != nil {
			return exitError(ExitInvalidInput, "failed to read reply from page: %v", err)
		}
	} else {
		raw, err := assistant.ReadRawLog(bytes.NewReader(data))
		if err != nil {
			return exitError(ExitInvalidInput, "failed to read reply: %v", err)
		}
		text = raw.Text
		if keyword == "" {
			keyword = raw.Keyword
		}
	}
	if keyword == "" {
		return exitError(ExitInvalidInput, "no keyword: pass --keyword")
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return exitError(ExitConfigError, "failed to set up logging: %v", err)
	}
	defer closeLog.Close()

	cfg.Store.Path = ""
	cfg.Events.NATSURL = ""
	p, err := pinscrpr.New(cmd.Context(), cfg, pinscrpr.Options{Logger: logger, NoAI: noAI})
	if err != nil {
		return exitError(ExitConfigError, "failed to set up parser: %v", err)
	}
	defer p.Close()

	res, err := p.Parse(cmd.Context(), text, keyword)
	if errors.Is(err, parser.ErrNoContent) {
		return exitError(ExitProcessError, "no titles and descriptions found in the reply")
	}
	if err != nil {
		return exitError(ExitProcessError, "parse failed: %v", err)
	}
	return emit(res)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(ExitConfigError, "failed to load config: %v", err)
	}
	keywords := cleanKeywords(args)
	if len(keywords) == 0 {
		return exitError(ExitInvalidInput, "no keywords provided")
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return exitError(ExitConfigError, "failed to set up logging: %v", err)
	}
	defer closeLog.Close()

	cfg.Events.NATSURL = ""
	p, err := pinscrpr.New(cmd.Context(), cfg, pinscrpr.Options{Logger: logger})
	if err != nil {
		return exitError(ExitConfigError, "failed to set up generator: %v", err)
	}
	defer p.Close()

	results := make([]pinscrpr.Result, 0, len(keywords))
	failed := 0
	for _, kw := range keywords {
		res, err := p.Generate(cmd.Context(), kw)
		if err != nil {
			failed++
			res = pinscrpr.Result{Keyword: kw, Titles: []string{}, Descriptions: []string{}, Overlays: []string{}, Error: err.Error()}
			if !quiet {
				fmt.Fprintf(os.Stderr, "Error generating %q: %v\n", kw, err)
			}
		}
		results = append(results, res)
	}

	out, closeOut, err := openOutput()
	if err != nil {
		return exitError(ExitFileIOError, "%v", err)
	}
	defer closeOut()
	if err := writeResults(out, results); err != nil {
		return exitError(ExitFileIOError, "failed to write results: %v", err)
	}

	switch {
	case failed == 0:
		return nil
	case failed < len(results):
		return exitError(ExitPartialError, "")
	default:
		return exitError(ExitProcessError, "")
	}
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(ExitConfigError, "failed to load config: %v", err)
	}
	if cfg.Store.Path == "" {
		return exitError(ExitConfigError, "store.path is not set")
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return exitError(ExitFileIOError, "failed to open result store: %v", err)
	}
	defer st.Close()

	var results []pinscrpr.Result
	if len(args) == 1 {
		rec, err := st.Get(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return exitError(ExitInvalidInput, "no result for %q", args[0])
		}
		if err != nil {
			return exitError(ExitFileIOError, "failed to read result: %v", err)
		}
		results = append(results, rec.AnalysisResult)
	} else {
		records, err := st.List(cmd.Context(), runID)
		if err != nil {
			return exitError(ExitFileIOError, "failed to list results: %v", err)
		}
		for _, rec := range records {
			results = append(results, rec.AnalysisResult)
		}
	}

	out, closeOut, err := openOutput()
	if err != nil {
		return exitError(ExitFileIOError, "%v", err)
	}
	defer closeOut()
	if results == nil {
		results = []pinscrpr.Result{}
	}
	if err := writeResults(out, results); err != nil {
		return exitError(ExitFileIOError, "failed to write results: %v", err)
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(ExitConfigError, "failed to load config: %v", err)
	}
	if cfg.Events.NATSURL == "" {
		return exitError(ExitConfigError, "events.nats_url is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := events.Watch(ctx, cfg.Events.NATSURL, cfg.Events.Subject, printProgress(os.Stdout)); err != nil {
		return exitError(ExitProcessError, "%v", err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if path == "" {
		return exitError(ExitConfigError, "cannot resolve config directory")
	}
	if _, err := os.Stat(path); err == nil && !force {
		return exitError(ExitConfigError, "%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().CreateExampleConfig(path); err != nil {
		return exitError(ExitFileIOError, "failed to write config: %v", err)
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Created config file: %s\n", path)
	}
	return nil
}

func emit(res pinscrpr.Result) error {
	out, closeOut, err := openOutput()
	if err != nil {
		return exitError(ExitFileIOError, "%v", err)
	}
	defer closeOut()
	if outputFormat == "text" {
		writeText(out, res)
		return nil
	}
	if err := writeResults(out, []pinscrpr.Result{res}); err != nil {
		return exitError(ExitFileIOError, "failed to write result: %v", err)
	}
	return nil
}
