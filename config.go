/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	apiURL            string
	bind              string
	count             int
	decisionThreshold float64
	fetchTimeout      time.Duration
	imageHeight       int
	imageWidth        int
	port              int
	prefix            string
	previewThreshold  float64
	profile           bool
	refetchOnReset    bool
	requestDelay      time.Duration
	sessionTimeout    time.Duration
	tlsCert           string
	tlsKey            string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.count < 1 || c.count > 100 {
		return fmt.Errorf("invalid count (must be between 1-100 inclusive): %d", c.count)
	}
	if c.previewThreshold <= 0 {
		return fmt.Errorf("invalid preview threshold (must be positive): %v", c.previewThreshold)
	}
	if c.decisionThreshold <= c.previewThreshold {
		return fmt.Errorf("decision threshold (%v) must be greater than preview threshold (%v)", c.decisionThreshold, c.previewThreshold)
	}
	if c.imageWidth < 1 || c.imageHeight < 1 {
		return fmt.Errorf("invalid image dimensions: %dx%d", c.imageWidth, c.imageHeight)
	}
	if c.requestDelay < 0 {
		return fmt.Errorf("invalid request delay (must not be negative): %s", c.requestDelay)
	}
	if c.fetchTimeout <= 0 {
		return fmt.Errorf("invalid fetch timeout (must be positive): %s", c.fetchTimeout)
	}

	u, err := url.Parse(c.apiURL)
	if err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api url (scheme must be http or https): %s", c.apiURL)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SWIPEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "swipebox",
		Short:         "Swipe through cat pictures and find out which ones you like.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.apiURL, "api-url", "https://cataas.com", "base url of the cat image api (env: SWIPEBOX_API_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SWIPEBOX_BIND)")
	fs.IntVarP(&cfg.count, "count", "c", 10, "number of cats per round (env: SWIPEBOX_COUNT)")
	fs.Float64Var(&cfg.decisionThreshold, "decision-threshold", 100, "horizontal drag distance that commits a decision (env: SWIPEBOX_DECISION_THRESHOLD)")
	fs.DurationVar(&cfg.fetchTimeout, "fetch-timeout", 30*time.Second, "time allowed for loading a round of cats (env: SWIPEBOX_FETCH_TIMEOUT)")
	fs.IntVar(&cfg.imageHeight, "image-height", 800, "requested image height (env: SWIPEBOX_IMAGE_HEIGHT)")
	fs.IntVar(&cfg.imageWidth, "image-width", 1000, "requested image width (env: SWIPEBOX_IMAGE_WIDTH)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SWIPEBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SWIPEBOX_PREFIX)")
	fs.Float64Var(&cfg.previewThreshold, "preview-threshold", 50, "horizontal drag distance that shows the like/pass indicator (env: SWIPEBOX_PREVIEW_THRESHOLD)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SWIPEBOX_PROFILE)")
	fs.BoolVar(&cfg.refetchOnReset, "refetch-on-reset", false, "fetch a fresh set of cats when a round is restarted (env: SWIPEBOX_REFETCH_ON_RESET)")
	fs.DurationVar(&cfg.requestDelay, "request-delay", 100*time.Millisecond, "delay between consecutive api requests (env: SWIPEBOX_REQUEST_DELAY)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: SWIPEBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SWIPEBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SWIPEBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SWIPEBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SWIPEBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("swipebox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
