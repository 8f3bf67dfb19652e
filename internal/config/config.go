package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "pinscrpr"

type Config struct {
	Browser   BrowserConfig   `mapstructure:"browser"`
	Export    ExportConfig    `mapstructure:"export"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Store     StoreConfig     `mapstructure:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type BrowserConfig struct {
	ProfileDir     string        `mapstructure:"profile_dir"`
	DownloadDir    string        `mapstructure:"download_dir"`
	Headless       bool          `mapstructure:"headless"`
	ExecPath       string        `mapstructure:"exec_path"`
	UserAgent      string        `mapstructure:"user_agent"`
	BrowserAgent   string        `mapstructure:"browser_agent"`
	CookieBrowser  string        `mapstructure:"cookie_browser"`
	CookiesFile    string        `mapstructure:"cookies_file"`
	CookieDomains  []string      `mapstructure:"cookie_domains"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	ElementTimeout time.Duration `mapstructure:"element_timeout"`
}

type ExportConfig struct {
	SearchURL      string        `mapstructure:"search_url"`
	FilePatterns   []string      `mapstructure:"file_patterns"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxPolls       int           `mapstructure:"max_polls"`
	ReloadEvery    int           `mapstructure:"reload_every"`
	MaxReloads     int           `mapstructure:"max_reloads"`
	DownloadChecks int           `mapstructure:"download_checks"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	RefineExport   bool          `mapstructure:"refine_export"`
}

type AssistantConfig struct {
	EntryURL          string        `mapstructure:"entry_url"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
	MinSettle         time.Duration `mapstructure:"min_settle"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MinReplyChars     int           `mapstructure:"min_reply_chars"`
	ClipboardAttempts int           `mapstructure:"clipboard_attempts"`
	ClipboardBackoff  time.Duration `mapstructure:"clipboard_backoff"`
	UploadSettle      time.Duration `mapstructure:"upload_settle"`
	RawLogDir         string        `mapstructure:"raw_log_dir"`
	InstructionFile   string        `mapstructure:"instruction_file"`
}

type LLMConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	MaxInputTokens int    `mapstructure:"max_input_tokens"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

type PipelineConfig struct {
	BatchSize                    int           `mapstructure:"batch_size"`
	DownloadRetries              int           `mapstructure:"download_retries"`
	AnalyzeAttempts              int           `mapstructure:"analyze_attempts"`
	FreshConversationFromAttempt int           `mapstructure:"fresh_conversation_from_attempt"`
	DownloadRetryDelay           time.Duration `mapstructure:"download_retry_delay"`
	KeywordDelayDownload         time.Duration `mapstructure:"keyword_delay_download"`
	KeywordDelayAnalyze          time.Duration `mapstructure:"keyword_delay_analyze"`
	BatchDelay                   time.Duration `mapstructure:"batch_delay"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Browser: BrowserConfig{
			ProfileDir:     filepath.Join(dataDir, "profile"),
			DownloadDir:    filepath.Join(dataDir, "downloads"),
			Headless:       false,
			ExecPath:       "",
			UserAgent:      "",
			BrowserAgent:   "chrome",
			CookieBrowser:  "none",
			CookiesFile:    "",
			CookieDomains:  []string{},
			NavTimeout:     60 * time.Second,
			ElementTimeout: 15 * time.Second,
		},
		Export: ExportConfig{
			SearchURL:      "",
			FilePatterns:   []string{"*.csv", "*.xlsx"},
			PollInterval:   2 * time.Second,
			MaxPolls:       300,
			ReloadEvery:    90,
			MaxReloads:     3,
			DownloadChecks: 20,
			CheckInterval:  time.Second,
			RefineExport:   true,
		},
		Assistant: AssistantConfig{
			EntryURL:          "https://chatgpt.com/",
			MaxWait:           180 * time.Second,
			MinSettle:         60 * time.Second,
			PollInterval:      2 * time.Second,
			MinReplyChars:     50,
			ClipboardAttempts: 5,
			ClipboardBackoff:  3 * time.Second,
			UploadSettle:      3 * time.Second,
			RawLogDir:         filepath.Join(dataDir, "raw_replies"),
			InstructionFile:   "",
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKey:         "",
			BaseURL:        "",
			MaxInputTokens: 6000,
			MaxRetries:     2,
		},
		Pipeline: PipelineConfig{
			BatchSize:                    5,
			DownloadRetries:              2,
			AnalyzeAttempts:              3,
			FreshConversationFromAttempt: 3,
			DownloadRetryDelay:           3 * time.Second,
			KeywordDelayDownload:         2 * time.Second,
			KeywordDelayAnalyze:          3 * time.Second,
			BatchDelay:                   5 * time.Second,
		},
		Store: StoreConfig{
			Path: "",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
		Events: EventsConfig{
			NATSURL: "",
			Subject: "pinscrpr.progress",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "",
		},
	}
}

func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName)
}

// ConfigDir returns $XDG_CONFIG_HOME/pinscrpr (or ~/.config/pinscrpr).
func ConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error finding home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, appName), nil
}

// DefaultConfigPath returns the config.toml path inside ConfigDir, or "" if it cannot be resolved.
func DefaultConfigPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		configDir, err := ConfigDir()
		if err != nil {
			return cfg, err
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigType("toml")
		viper.SetConfigName("config")

		// Create config directory if it doesn't exist
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return cfg, fmt.Errorf("error creating config directory: %w", err)
		}
	}

	viper.SetEnvPrefix("PINSCRPR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.fillEmptyPaths()
	cfg.applyEnvKeys()

	return cfg, nil
}

// fillEmptyPaths restores default locations for path keys left blank in the file.
func (c *Config) fillEmptyPaths() {
	d := Default()
	if c.Browser.ProfileDir == "" {
		c.Browser.ProfileDir = d.Browser.ProfileDir
	}
	if c.Browser.DownloadDir == "" {
		c.Browser.DownloadDir = d.Browser.DownloadDir
	}
	if c.Assistant.RawLogDir == "" {
		c.Assistant.RawLogDir = d.Assistant.RawLogDir
	}

	for _, p := range []*string{
		&c.Browser.ProfileDir,
		&c.Browser.DownloadDir,
		&c.Browser.CookiesFile,
		&c.Assistant.RawLogDir,
		&c.Assistant.InstructionFile,
		&c.Store.Path,
		&c.Logging.File,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// applyEnvKeys lets provider-native environment variables fill an empty api_key.
func (c *Config) applyEnvKeys() {
	if c.LLM.APIKey != "" {
		return
	}
	switch c.LLM.Provider {
	case "gemini":
		c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	default:
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate reports settings that would make a batch run impossible.
func (c *Config) Validate() error {
	if c.Export.SearchURL == "" {
		return fmt.Errorf("export.search_url is required")
	}
	if c.Assistant.EntryURL == "" {
		return fmt.Errorf("assistant.entry_url is required")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.AnalyzeAttempts <= 0 {
		return fmt.Errorf("pipeline.analyze_attempts must be positive, got %d", c.Pipeline.AnalyzeAttempts)
	}
	if len(c.Export.FilePatterns) == 0 {
		return fmt.Errorf("export.file_patterns must not be empty")
	}
	return nil
}

func (c *Config) CreateExampleConfig(configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	exampleContent := `# pinscrpr configuration file

[browser]
# Persistent Chrome profile; stale Singleton* lock files are removed before each launch
profile_dir = ""          # default: $XDG_DATA_HOME/pinscrpr/profile
download_dir = ""         # default: $XDG_DATA_HOME/pinscrpr/downloads
headless = false
exec_path = ""            # Chrome binary (empty = auto-detect)
user_agent = ""           # Custom user agent (empty = pick from browser_agent)
browser_agent = "chrome"  # auto, chrome, firefox, safari, edge

# Login cookies copied into the automation profile
cookie_browser = "none"   # none, auto, chrome, firefox, safari, zen
cookies_file = ""         # Netscape cookies.txt or "name=value; ..." file
cookie_domains = []       # e.g. ["chatgpt.com", "openai.com"]

nav_timeout = "60s"
element_timeout = "15s"

[export]
search_url = ""                      # Keyword search page of the export site
file_patterns = ["*.csv", "*.xlsx"]  # Accepted export file names
poll_interval = "2s"                 # Loading-marker poll interval
max_polls = 300                      # ~10 minutes at 2s
reload_every = 90                    # Reload + re-search after this many stalled polls
max_reloads = 3
download_checks = 20                 # Download directory checks after export
check_interval = "1s"
refine_export = true

[assistant]
entry_url = "https://chatgpt.com/"
max_wait = "180s"          # Generation wait ceiling
min_settle = "60s"         # Ignore a missing busy indicator before this much time has passed
poll_interval = "2s"
min_reply_chars = 50       # Shorter DOM reads fall back to the clipboard
clipboard_attempts = 5
clipboard_backoff = "3s"
upload_settle = "3s"
raw_log_dir = ""           # default: $XDG_DATA_HOME/pinscrpr/raw_replies
instruction_file = ""      # text/template with {{.Keyword}}; empty = built-in

[llm]
provider = "openai"        # openai, gemini
model = "gpt-4o-mini"
api_key = ""               # or OPENAI_API_KEY / GEMINI_API_KEY
base_url = ""
max_input_tokens = 6000
max_retries = 2

[pipeline]
batch_size = 5
download_retries = 2
analyze_attempts = 3
fresh_conversation_from_attempt = 3
download_retry_delay = "3s"
keyword_delay_download = "2s"
keyword_delay_analyze = "3s"
batch_delay = "5s"

[store]
path = ""                  # SQLite results file, e.g. "~/.local/share/pinscrpr/results.db" (empty = disabled)

[metrics]
addr = ""                  # e.g. ":9464" serves /metrics, /healthz and /progress

[events]
nats_url = ""              # e.g. "nats://127.0.0.1:4222"
subject = "pinscrpr.progress"

[logging]
level = "info"             # trace, debug, info, warn, error
format = "console"         # console, json
file = ""                  # Additional JSON log file (empty = stderr only)
`

	return os.WriteFile(configPath, []byte(exampleContent), 0644)
}
