package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"healthrisk/artifact"
	"healthrisk/config"
	"healthrisk/inference"
	"healthrisk/logging"
	"healthrisk/monitoring"
)

var rootDescription = `
healthrisk serves maternal-risk and PCOS predictions from exported model bundles.
It runs as an HTTP service (serve) or scores a single input from the command line (predict).
`

type options struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:               "healthrisk <command> [flags]",
		Short:             "maternal-risk and PCOS inference service",
		Long:              rootDescription,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config.yaml (default: ./config.yaml, ./configs, /etc/healthrisk)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newPredictCmd(opts))
	rootCmd.AddCommand(newBatchCmd(opts))
	rootCmd.AddCommand(newInspectCmd(opts))
	return rootCmd
}

// load reads and validates the configuration, then initializes logging.
func (o *options) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	o.cfg = cfg
	return nil
}

// newRegistry builds the bundle registry. One-shot commands pass watch=false.
func (o *options) newRegistry(watch bool) (*artifact.Registry, error) {
	a := o.cfg.Artifacts
	rc := artifact.RegistryConfig{
		Dir:          a.Dir,
		CacheEnabled: a.Cache.Enabled,
		CacheSize:    a.Cache.Size,
		Watch:        watch && a.Watch,
	}
	if o.cfg.Metrics.Enabled {
		rc.Observer = monitoring.Recorder{}
	}
	return artifact.NewRegistry(rc)
}

func (o *options) newService(bundles inference.BundleSource) *inference.Service {
	opts := inference.Options{
		MaternalBundle:   o.cfg.Artifacts.Maternal,
		PCOSBundle:       o.cfg.Artifacts.PCOS,
		ProbabilityScale: o.cfg.Inference.ProbabilityScale,
		NormalizeRisk:    o.cfg.Inference.NormalizeRisk,
	}
	if o.cfg.Metrics.Enabled {
		opts.Observer = monitoring.Recorder{}
	}
	return inference.NewService(bundles, opts)
}
