package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zsiec/livebuf/internal/config"
	"github.com/zsiec/livebuf/internal/logging"
)

// rootOptions carries state shared by every subcommand once the
// persistent pre-run has loaded configuration.
type rootOptions struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "livebuf",
		Short: "Low-latency live media buffer controller",
		Long: `livebuf plays a live segment stream through a bounded media buffer,
keeping playback close to the live edge by seeking forward when too much
media has accumulated and trimming what has already been played.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.Flags())
		},
	}

	// These flags are not bound to viper. They override config and env
	// values only when Changed().
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ./livebuf.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")

	cmd.AddCommand(newPlayCmd(opts), newVersionCmd())
	return cmd
}

func (o *rootOptions) load(flags *pflag.FlagSet) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	o.cfg = cfg
	o.log = logging.New(cfg.Logging)
	slog.SetDefault(o.log)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Printing the version must not depend on a valid config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "livebuf %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
