// Command confstore inspects configuration-store databases, catalogs and
// blobs.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/andreyvit/confstore"
)

type app struct {
	configFile string
	cfg        confstore.Config
	logger     *slog.Logger
	stderr     io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}
	rootCmd := &cobra.Command{
		Use:           "confstore",
		Short:         "Inspect configuration-store databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (env CONFSTORE_* overrides it)")

	rootCmd.AddCommand(
		a.tablesCmd(),
		a.dumpCmd(),
		a.schemaCmd(),
		a.blobCmd(),
	)
	return rootCmd
}

func (a *app) setup() error {
	cfg, err := confstore.LoadConfig(a.configFile, "CONFSTORE")
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(tint.NewHandler(a.stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	return nil
}
