/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MASHBOX"

type Config struct {
	bind           string
	envFile        string
	maxCategories  int
	maxOptions     int
	maxRequestStep int
	maxStep        int
	minStep        int
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tickDelay      time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.minStep < 1 {
		return fmt.Errorf("invalid --min-step (must be at least 1): %d", c.minStep)
	}
	if c.maxStep < c.minStep {
		return fmt.Errorf("invalid --max-step (must be at least --min-step %d): %d", c.minStep, c.maxStep)
	}
	if c.maxRequestStep < c.maxStep {
		return fmt.Errorf("invalid --max-request-step (must be at least --max-step %d): %d", c.maxStep, c.maxRequestStep)
	}
	if c.maxCategories < 1 {
		return fmt.Errorf("invalid --max-categories (must be at least 1): %d", c.maxCategories)
	}
	if c.maxOptions < 1 {
		return fmt.Errorf("invalid --max-options (must be at least 1): %d", c.maxOptions)
	}
	if c.tickDelay < 0 {
		return fmt.Errorf("invalid --tick-delay (must not be negative): %s", c.tickDelay)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// loadEnvFile imports variables from a dotenv file without overriding ones
// already present in the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

// bindEnv mirrors every flag in set to a MASHBOX_* environment variable,
// applying the environment value wherever the flag was not given explicitly.
func bindEnv(set *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	set.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = set.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func normalizeFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mashbox",
		Short:         "The MASH fortune-telling party game, served as a single webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(cfg.envFile); err != nil {
				return err
			}
			bindEnv(cmd.Flags())
			configureLogging(cfg)
			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(normalizeFlags)

	pfs.StringVar(&cfg.envFile, "env-file", ".env", "dotenv file to load before reading MASHBOX_* variables")
	pfs.IntVar(&cfg.maxRequestStep, "max-request-step", 1000, "largest step a caller may request (env: MASHBOX_MAX_REQUEST_STEP)")
	pfs.IntVar(&cfg.maxStep, "max-step", 9, "largest step picked when none is requested (env: MASHBOX_MAX_STEP)")
	pfs.IntVar(&cfg.minStep, "min-step", 3, "smallest step picked when none is requested (env: MASHBOX_MIN_STEP)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MASHBOX_VERBOSE)")

	flags := cmd.Flags()
	flags.SetNormalizeFunc(normalizeFlags)

	flags.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MASHBOX_BIND)")
	flags.IntVar(&cfg.maxCategories, "max-categories", 8, "most categories a board may hold (env: MASHBOX_MAX_CATEGORIES)")
	flags.IntVar(&cfg.maxOptions, "max-options", 12, "most options a category may hold (env: MASHBOX_MAX_OPTIONS)")
	flags.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MASHBOX_PORT)")
	flags.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MASHBOX_PREFIX)")
	flags.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MASHBOX_PROFILE)")
	flags.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: MASHBOX_SESSION_TIMEOUT)")
	flags.DurationVar(&cfg.tickDelay, "tick-delay", 250*time.Millisecond, "pause between streamed game events (env: MASHBOX_TICK_DELAY)")
	flags.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MASHBOX_TLS_CERT)")
	flags.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MASHBOX_TLS_KEY)")
	flags.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MASHBOX_VERSION)")

	cmd.AddCommand(newRollCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mashbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
