// Command foodmobile drives the client session core from a terminal: sign in,
// recover a stored session, and browse people and restaurants.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/theDeemoonn/foodMobile/credentials"
	"github.com/theDeemoonn/foodMobile/credentials/filestore"
	"github.com/theDeemoonn/foodMobile/credentials/memstore"
	"github.com/theDeemoonn/foodMobile/gateway"
	"github.com/theDeemoonn/foodMobile/internal/config"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
	"github.com/theDeemoonn/foodMobile/restaurants"
	"github.com/theDeemoonn/foodMobile/session"
	"github.com/theDeemoonn/foodMobile/users"
	"github.com/theDeemoonn/foodMobile/validation"
)

const configFileVar = "FOODMOBILE_CONFIG"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, apperrors.UserMessage(err))
		log.Debug().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app is everything a command needs, wired the same way for every command.
type app struct {
	cfg         config.Config
	registry    *prometheus.Registry
	gateway     *gateway.Gateway
	session     *session.Manager
	users       *users.Store
	restaurants *restaurants.Store
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	flags := pflag.NewFlagSet("foodmobile", pflag.ContinueOnError)
	configPath := flags.String("config", config.GetEnv(configFileVar, ""), "YAML config file")
	showBanner := flags.Bool("banner", false, "print the application banner")
	showMetrics := flags.Bool("metrics", false, "print gateway metrics after the command")
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: foodmobile [flags] <command> [args]\n\ncommands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-18s %s\n", c.name, c.summary)
		}
		fmt.Fprintf(os.Stderr, "\nflags:\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("no command given")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	if *showBanner {
		displayAppname(cfg.GetAppName())
	}

	cmd, ok := lookup(flags.Arg(0))
	if !ok {
		flags.Usage()
		return fmt.Errorf("unknown command %q", flags.Arg(0))
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.needsSession {
		if err := a.session.CheckAuth(ctx); err != nil {
			log.Debug().Err(err).Msg("stored session could not be recovered")
		}
		if !a.session.IsAuthenticated() {
			return apperrors.E(apperrors.KindSessionExpired, cmd.name, errors.New("not signed in, run `foodmobile login` first"))
		}
	}

	returnError = cmd.run(ctx, a, flags.Args()[1:])
	if *showMetrics {
		printMetrics(a.registry)
	}
	return returnError
}

func newApp(cfg config.Config) (*app, error) {
	store, err := newCredentialStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	gw, err := gateway.New(cfg.GetPublicBaseURL(), cfg.GetPrivateBaseURL(), store,
		gateway.WithScheme(gateway.ParseScheme(cfg.GetCredentialScheme())),
		gateway.WithHTTPClient(newHTTPClient(cfg.GetRequestTimeout())),
		gateway.WithRegisterer(registry),
	)
	if err != nil {
		return nil, err
	}

	m, err := session.New(gw, store,
		session.WithValidator(validation.New(cfg.GetPasswordMinLength())),
		session.WithNotifyBackendOnLogout(cfg.GetNotifyBackendOnLogout()),
	)
	if err != nil {
		return nil, err
	}
	gw.SetRefresher(m)
	m.Subscribe(func(s session.State) {
		log.Debug().Str("status", string(s.Status)).Bool("loading", s.IsLoading).Msg("session state")
	})

	people := users.NewStore(gw, m, users.WithLogoutOnGatewayTimeout(cfg.GetLogoutOnGatewayTimeout()))
	return &app{
		cfg:         cfg,
		registry:    registry,
		gateway:     gw,
		session:     m,
		users:       people,
		restaurants: restaurants.NewStore(gw, people),
	}, nil
}

func (a *app) close() {
	a.restaurants.Close()
	a.users.Close()
	a.session.Close()
}

// newCredentialStore persists credentials to an encrypted file when a
// passphrase is configured. Without one, credentials last for one run.
func newCredentialStore(cfg config.Config) (credentials.Store, error) {
	passphrase := cfg.GetCredentialsPassphrase()
	if passphrase == "" {
		log.Warn().Msg("CREDENTIALS_PASSPHRASE not set, credentials will not survive this run")
		return memstore.New(), nil
	}
	fs, err := filestore.New(cfg.GetCredentialsFile(), passphrase)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func printMetrics(registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		log.Err(err).Msg("failed to gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			fmt.Fprintf(os.Stderr, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
}
