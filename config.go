package confstore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/andreyvit/confstore/records"
)

const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config selects and tunes the record database behind a Store.
type Config struct {
	// Backend is bolt, badger or memory.
	Backend string `mapstructure:"backend"`
	// Path is the Bolt file or the Badger directory.
	Path    string `mapstructure:"path"`
	Verbose bool   `mapstructure:"verbose"`
	// CompressAbove is the row size above which values are zstd-compressed.
	// Zero picks the default; negative disables compression.
	CompressAbove int    `mapstructure:"compress_above"`
	LogLevel      string `mapstructure:"log_level"`
	// Catalog is a YAML schema catalog file.
	Catalog string `mapstructure:"catalog"`
}

func DefaultConfig() Config {
	return Config{
		Backend:  BackendBolt,
		Path:     "confstore.db",
		LogLevel: "info",
	}
}

// LoadConfig reads file, if given, and then environment variables named
// prefix + the upper-cased key (CONFSTORE_BACKEND, CONFSTORE_COMPRESS_ABOVE),
// on top of DefaultConfig.
func LoadConfig(file, prefix string) (Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("backend", def.Backend)
	v.SetDefault("path", def.Path)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("compress_above", def.CompressAbove)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("catalog", def.Catalog)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("confstore: reading config %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("confstore: failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	switch cfg.Backend {
	case BackendBolt, BackendBadger:
		if cfg.Path == "" {
			return fmt.Errorf("confstore: %s backend needs a path", cfg.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("confstore: unknown backend %q", cfg.Backend)
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel; empty means info.
func (cfg Config) Level() (slog.Level, error) {
	var level slog.Level
	if cfg.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return 0, fmt.Errorf("confstore: invalid log level %q", cfg.LogLevel)
	}
	return level, nil
}

var ErrUnknownBackend = errors.New("unknown backend")

// OpenDB opens the record database cfg describes with the record types
// of recs. The verbose operation log goes to logger at debug level.
func OpenDB(cfg Config, recs *records.Schema, logger *slog.Logger) (*records.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt := records.Options{
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		},
		Verbose:       cfg.Verbose,
		CompressAbove: cfg.CompressAbove,
	}
	switch cfg.Backend {
	case BackendBolt:
		return records.Open(cfg.Path, recs, opt)
	case BackendBadger:
		if cfg.Verbose {
			opt.BadgerLogger = badgerLogger(logger)
		}
		return records.OpenBadger(cfg.Path, recs, opt)
	case BackendMemory:
		return records.OpenMemory(recs, opt), nil
	default:
		return nil, fmt.Errorf("confstore: %w %q", ErrUnknownBackend, cfg.Backend)
	}
}

// badgerLogger forwards Badger's logrus output to logger.
func badgerLogger(logger *slog.Logger) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	l.SetOutput(&slogWriter{logger: logger.With("component", "badger")})
	return l
}

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(buf []byte) (int, error) {
	w.logger.Info(strings.TrimSpace(string(buf)))
	return len(buf), nil
}
