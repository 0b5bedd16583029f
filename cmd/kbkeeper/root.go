package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kk-code-lab/kbkeeper/internal/clock"
	"github.com/kk-code-lab/kbkeeper/internal/config"
	"github.com/kk-code-lab/kbkeeper/internal/logging"
	"github.com/kk-code-lab/kbkeeper/internal/meta"
	"github.com/kk-code-lab/kbkeeper/internal/metrics"
	"github.com/kk-code-lab/kbkeeper/internal/ops"
)

// cli carries global flag values and the resolved configuration shared by
// all subcommands.
type cli struct {
	configPath  string
	logLevel    string
	logFormat   string
	ledger      string
	metricsFile string
	timezone    string

	cfg   *config.Config
	clock clock.Clock
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "kbkeeper",
		Short: "Audit and prune KBackup incremental backup repositories",
		Long: `kbkeeper inspects the incremental store written by KBackup-Fabric.

  kbkeeper verify-backup-repo /srv/mc/backups/incremental --threads 1
  kbkeeper verify-kbi /srv/mc/backups/incremental /srv/mc/backups/*.kbi
  kbkeeper dump-kbi incremental-2024-05-01_10-00-00_nightly.kbi --pretty
  kbkeeper archive incremental backups archive/incremental archive/backups 30d --dry-run`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "config file path (env "+config.EnvPath+")")
	pf.StringVarP(&c.logLevel, "log-level", "l", "info", "log level: trace|debug|info|warn|error")
	pf.StringVar(&c.logFormat, "log-format", config.LogFormatAuto, "log format: auto|console|json")
	pf.StringVar(&c.ledger, "ledger", "", "SQLite run ledger path (disabled when empty)")
	pf.StringVar(&c.metricsFile, "metrics-file", "", "write Prometheus textfile metrics after each run")
	pf.StringVar(&c.timezone, "timezone", "", "zone of the timestamps in backup filenames (default local)")

	root.AddCommand(
		c.verifyRepoCmd(),
		c.verifyKBICmd(),
		c.dumpKBICmd(),
		c.archiveCmd(),
		c.historyCmd(),
		versionCmd(),
	)
	return root
}

// setup loads the configuration file, lets explicitly set flags override
// it and configures logging.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Resolve(c.configPath))
	if err != nil {
		return usageError(err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	if flags.Changed("ledger") {
		cfg.Ledger = c.ledger
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = c.metricsFile
	}
	if flags.Changed("timezone") {
		cfg.Timezone = c.timezone
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}
	if err := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat); err != nil {
		return usageError(err)
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	c.cfg = cfg
	return nil
}

func intFlag(cmd *cobra.Command, name string, fallback int) int {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return fallback
	}
	return v
}

// openLedger returns nil when no ledger is configured.
func (c *cli) openLedger() (*meta.Store, error) {
	if c.cfg.Ledger == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.Ledger), 0o755); err != nil {
		return nil, fmt.Errorf("ledger dir: %w", err)
	}
	store, err := meta.Open(c.cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger open: %w", err)
	}
	return store, nil
}

func ledgerOf(store *meta.Store) ops.Ledger {
	if store == nil {
		return nil
	}
	return store
}

func closeLedger(store *meta.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("ledger close failed")
	}
}

// writeMetrics exports report when a metrics file is configured. Failures
// are logged and never change the command's outcome.
func (c *cli) writeMetrics(report *ops.Report, runErr error) {
	if c.cfg.MetricsFile == "" || report == nil {
		return
	}
	m := metrics.New()
	m.Observe(report, runErr == nil)
	if err := m.WriteFile(c.cfg.MetricsFile); err != nil {
		log.Warn().Err(err).Str("file", c.cfg.MetricsFile).Msg("metrics write failed")
	}
}
