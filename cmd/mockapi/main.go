// Command mockapi serves the in-memory backend for local runs of foodmobile.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/theDeemoonn/foodMobile/internal/config"
	"github.com/theDeemoonn/foodMobile/internal/mockapi"
	"github.com/theDeemoonn/foodMobile/restaurants"
	"github.com/theDeemoonn/foodMobile/users"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("error running server")
	}
	log.Info().Msg("server stopped")
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	flags := pflag.NewFlagSet("mockapi", pflag.ContinueOnError)
	configPath := flags.String("config", config.GetEnv("FOODMOBILE_CONFIG", ""), "YAML config file")
	accessTTL := flags.Duration("access-ttl", mockapi.DefaultAccessTokenTTL, "access token lifetime")
	confirmCode := flags.String("confirm-code", "", "require this email confirmation code after registration")
	seed := flags.Bool("seed", true, "create a demo user and restaurant")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	c, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.GetAppName() + " api")

	api, err := mockapi.New(
		mockapi.WithEnv(c.GetEnv()),
		mockapi.WithLogger(log.Logger),
		mockapi.WithAccessTokenTTL(*accessTTL),
		mockapi.WithEmailConfirmation(*confirmCode),
	)
	if err != nil {
		return err
	}
	if *seed {
		if err := seedDemoData(api); err != nil {
			return err
		}
	}

	server := &http.Server{Addr: c.GetPort(), Handler: api, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() {
		errs <- listenAndServe(server)
	}()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func seedDemoData(api *mockapi.Server) error {
	demo, err := api.SeedUser("demo@foodmobile.dev", "demo123", users.User{
		Name:      "Demo",
		Surname:   "User",
		Age:       28,
		Gender:    "female",
		Interests: "pizza, jazz",
	})
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	api.SeedRestaurant(restaurants.Restaurant{
		Email:        "hello@pelmeni.dev",
		Name:         "Pelmeni House",
		AveragePrice: 900,
		Category:     "russian",
		OGRN:         "1027700132195",
		INN:          "7707083893",
		Address:      "Tverskaya 1, Moscow",
		Phone:        "74950000000",
		Hours:        "10:00-23:00",
		OwnerIDs:     []string{demo.ID},
	})
	log.Info().Str("email", demo.Email).Msg("seeded demo account with password demo123")
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
