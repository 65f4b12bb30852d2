package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultConnectTimeout = 30 * time.Second

type Config struct {
	advertise      string
	bind           string
	connectTimeout time.Duration
	eventFile      string
	metrics        bool
	name           string
	port           int
	profile        bool
	qr             bool
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validateHost() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 0 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 0-65535 inclusive): %d", c.port)
	}
	if c.eventFile == "" {
		return errors.New("an event file must be provided with --event")
	}
	return nil
}

func (c *Config) validateJoin() error {
	if strings.TrimSpace(c.name) == "" {
		return errors.New("a display name must be provided with --name")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) wsScheme() string {
	if c.scheme() == "https" {
		return "wss"
	}
	return "ws"
}

// advertiseHost is the host part of the join address. Binding to all
// interfaces advertises the first non-loopback IPv4 address instead.
func (c *Config) advertiseHost() string {
	if c.advertise != "" {
		return c.advertise
	}

	if c.bind != "" && c.bind != "0.0.0.0" && c.bind != "::" {
		return c.bind
	}

	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}

// bindFlags lets every flag on fs also be set from the environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BLINDTASTING")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "blindtasting",
		Short:         "Run a blind wine tasting between devices on the same network, no server required.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			bindFlags(v, cmd.Flags())
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.DurationVar(&cfg.connectTimeout, "connect-timeout", defaultConnectTimeout, "time to wait for a peer channel to open (env: BLINDTASTING_CONNECT_TIMEOUT)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BLINDTASTING_VERBOSE)")
	pfs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BLINDTASTING_VERSION)")

	cmd.AddCommand(newHostCmd(cfg), newJoinCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("blindtasting v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newHostCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a tasting event and let participants join it.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateHost(); err != nil {
				return err
			}
			return RunHost(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.advertise, "advertise", "", "host name or address to put in the join code (env: BLINDTASTING_ADVERTISE)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BLINDTASTING_BIND)")
	fs.StringVarP(&cfg.eventFile, "event", "e", "", "path to the event definition (env: BLINDTASTING_EVENT)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "serve prometheus metrics on /metrics (env: BLINDTASTING_METRICS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on, 0 for any (env: BLINDTASTING_PORT)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BLINDTASTING_PROFILE)")
	fs.BoolVar(&cfg.qr, "qr", true, "print the join code as a QR code (env: BLINDTASTING_QR)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BLINDTASTING_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BLINDTASTING_TLS_KEY)")

	return cmd
}

func newJoinCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <address>",
		Short: "Join a tasting event using the host's join code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateJoin(); err != nil {
				return err
			}
			return RunParticipant(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.name, "name", "n", "", "display name shown on the leaderboard (env: BLINDTASTING_NAME)")

	return cmd
}
