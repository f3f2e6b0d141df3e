package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Overthrowing/null-pointer/internal/config"
	"github.com/Overthrowing/null-pointer/internal/gateway"
	"github.com/Overthrowing/null-pointer/internal/httpapi"
	"github.com/Overthrowing/null-pointer/internal/relay"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)

	gwConfig := gateway.DefaultConfig()
	gwConfig.PingInterval = cfg.Gateway.PingInterval.Std()
	gwConfig.ReadTimeout = cfg.Gateway.ReadTimeout.Std()
	gwConfig.WriteTimeout = cfg.Gateway.WriteTimeout.Std()
	gwConfig.MaxMessageSize = cfg.Gateway.MaxMessageSize

	var gw *gateway.Gateway
	r := relay.NewRelay(senderFunc(func(connID string, ev relay.Event) {
		gw.Send(connID, ev)
	}))
	gw = gateway.New(gwConfig, r)

	server := httpapi.NewServer(cfg, gw, r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("relay server listening")
		logJoinURLs(cfg)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// logJoinURLs prints where screens and remotes should point their browsers,
// assuming both devices share a network with this host.
func logJoinURLs(cfg config.Config) {
	base := cfg.PublicURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", httpapi.LocalIP(), cfg.Port)
	}
	log.Info().
		Str("screen", base).
		Str("remote", base+"/remote").
		Msg("join URLs")
}

// senderFunc adapts a function to relay.Sender.
type senderFunc func(connID string, ev relay.Event)

func (f senderFunc) Send(connID string, ev relay.Event) { f(connID, ev) }
