package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/ico-scan/ico"
	"github.com/dhcgn/ico-scan/textdecode"
)

const (
	DefaultInputDir = "eml"
	DefaultOutput   = "result.csv"
	EnvPrefix       = "ICOSCAN"
)

// Mode selects where emails are read from.
type Mode string

const (
	ModeDir  Mode = "dir"
	ModeMbox Mode = "mbox"
	ModeIMAP Mode = "imap"
)

// Config captures all options of one scan.
type Config struct {
	Mode       Mode
	InputDir   string
	MboxPath   string
	OutputPath string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	Exclusions []string
	Encodings  []string

	LogLevel   string
	LogDir     string
	NoProgress bool

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// RegisterFlags attaches the flags shared by every scan command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringSlice("exclude", ico.DefaultExclusions, "Numbers never reported")
	flags.StringSlice("encoding", textdecode.DefaultEncodings, "Encodings tried on text parts, in order")
	flags.Bool("no-progress", false, "Disable the progress bar")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// RegisterIMAPFlags attaches the connection flags of the IMAP scan.
func RegisterIMAPFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "IMAP folder to scan")
}

// LoadConfig merges flags, ICOSCAN_* environment variables and the optional
// config file, in that order of precedence, and validates the result.
// Positional args are interpreted according to mode.
func LoadConfig(cmd *cobra.Command, mode Mode, args []string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("input", DefaultInputDir)
	v.SetDefault("output", DefaultOutput)

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Config{
		Mode:       mode,
		InputDir:   v.GetString("input"),
		OutputPath: v.GetString("output"),
		Exclusions: v.GetStringSlice("exclude"),
		Encodings:  v.GetStringSlice("encoding"),
		LogLevel:   strings.ToLower(v.GetString("log-level")),
		LogDir:     v.GetString("log-dir"),
		NoProgress: v.GetBool("no-progress"),
	}

	var err error
	if cfg.IncludeHeader, err = patterns(cmd, v, "include-header"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeBody, err = patterns(cmd, v, "include-body"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeHeader, err = patterns(cmd, v, "exclude-header"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeBody, err = patterns(cmd, v, "exclude-body"); err != nil {
		return Config{}, err
	}

	switch mode {
	case ModeDir:
		if len(args) > 0 {
			cfg.InputDir = args[0]
		}
		if len(args) > 1 {
			cfg.OutputPath = args[1]
		}
	case ModeMbox:
		cfg.MboxPath = v.GetString("mbox")
		if len(args) > 0 {
			cfg.MboxPath = args[0]
		}
		if len(args) > 1 {
			cfg.OutputPath = args[1]
		}
	case ModeIMAP:
		cfg.IMAPHost = v.GetString("imap-host")
		cfg.IMAPPort = v.GetInt("imap-port")
		cfg.IMAPUser = v.GetString("imap-user")
		cfg.IMAPPass = v.GetString("imap-pass")
		cfg.UseTLS = v.GetBool("use-tls")
		cfg.InsecureSkipVerify = v.GetBool("insecure-skip-verify")
		cfg.IMAPFolder = v.GetString("imap-folder")
		if cfg.IMAPPass == "" {
			cfg.IMAPPass = os.Getenv("IMAP_PASS")
		}
		if len(args) > 0 {
			cfg.OutputPath = args[0]
		}
	default:
		return Config{}, fmt.Errorf("unknown mode %q", mode)
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.LogDir != "" {
		cfg.LogDir = filepath.Clean(cfg.LogDir)
	}
	cfg.Exclusions = trimAll(cfg.Exclusions)
	cfg.Encodings = trimAll(cfg.Encodings)
	if len(cfg.Encodings) == 0 {
		cfg.Encodings = textdecode.DefaultEncodings
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// patterns prefers the raw flag values, since regular expressions may
// contain commas that viper would split on.
func patterns(cmd *cobra.Command, v *viper.Viper, name string) ([]string, error) {
	flag := cmd.Flags().Lookup(name)
	if flag != nil && flag.Changed {
		return cmd.Flags().GetStringArray(name)
	}
	return v.GetStringSlice(name), nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func validateConfig(cfg Config) error {
	if cfg.OutputPath == "" {
		return fmt.Errorf("output file is required")
	}

	switch cfg.Mode {
	case ModeDir:
		if cfg.InputDir == "" {
			return fmt.Errorf("input directory is required")
		}
	case ModeMbox:
		if cfg.MboxPath == "" {
			return fmt.Errorf("mbox file is required")
		}
	case ModeIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.IMAPFolder == "" {
			return fmt.Errorf("--imap-folder must not be empty")
		}
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
