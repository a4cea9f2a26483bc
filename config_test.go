package confstore

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/confstore/confstoretest"
	"github.com/andreyvit/confstore/records"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", "CONFSTORE_TEST")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "confstore.yaml")
	require.NoError(t, os.WriteFile(fn, []byte("backend: badger\npath: /var/lib/cs\ncompress_above: 100\nlog_level: debug\n"), 0o644))
	t.Setenv("CONFSTORE_TEST_PATH", "/tmp/cs")
	t.Setenv("CONFSTORE_TEST_VERBOSE", "true")

	cfg, err := LoadConfig(fn, "CONFSTORE_TEST_")
	require.NoError(t, err)
	require.Equal(t, Config{
		Backend:       BackendBadger,
		Path:          "/tmp/cs",
		Verbose:       true,
		CompressAbove: 100,
		LogLevel:      "debug",
	}, cfg)
	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CONFSTORE_TEST_BACKEND", "floppy")
	_, err := LoadConfig("", "CONFSTORE_TEST")
	require.ErrorContains(t, err, "unknown backend")

	t.Setenv("CONFSTORE_TEST_BACKEND", "memory")
	t.Setenv("CONFSTORE_TEST_LOG_LEVEL", "loud")
	_, err = LoadConfig("", "CONFSTORE_TEST")
	require.ErrorContains(t, err, "invalid log level")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "CONFSTORE_TEST")
	require.Error(t, err)
}

func TestOpenDB(t *testing.T) {
	logger := confstoretest.Logger(t)
	for _, cfg := range []Config{
		{Backend: BackendMemory},
		{Backend: BackendBolt, Path: filepath.Join(t.TempDir(), "cs.db")},
		{Backend: BackendBadger, Path: t.TempDir(), Verbose: true},
	} {
		t.Run(cfg.Backend, func(t *testing.T) {
			env := confstoretest.New(t)
			db, err := OpenDB(cfg, env.Records, logger)
			require.NoError(t, err)
			defer db.Close()

			s := New(db, env.Catalog, env.Registry, Options{Logger: logger})
			populate(t, s, "h")
			require.NoError(t, db.Read(func(tx *records.Tx) error {
				names, err := tx.Buckets()
				require.Contains(t, names, "holders")
				return err
			}))
		})
	}

	_, err := OpenDB(Config{Backend: "tape"}, nil, logger)
	require.ErrorIs(t, err, ErrUnknownBackend)
}
