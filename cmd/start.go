package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/internal/env"
	"github.com/luma/lantern/internal/meta"
	"github.com/luma/lantern/storage"
	"github.com/luma/lantern/telemetry"
	"github.com/luma/lantern/transport"
)

var (
	startRedis redisFlags

	// The address to serve the HTTP API on
	httpAddr string
)

func init() {
	flags := StartCmd.PersistentFlags()

	startRedis.register(flags)
	flags.StringVar(&httpAddr, "http-addr", "0.0.0.0:7362", "The address to listen to HTTP requests on")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the Lantern service",
	Long: `Start up the Lantern service

Connects to Redis, publishes stats and serves the HTTP API.

Usage
	lantern start --host 127.0.0.1 --port 6379

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}
		startRedis.apply(cmd.Flags(), conf)

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		options := clientOptions(conf)
		options.Log = log.Named("redis")
		conn := client.New(options)

		status := storage.NewStatusStore()
		info := meta.GetInfo()
		if err := multierr.Combine(
			status.Set("version", info.Version),
			status.Set("start_time", startedAt()),
			status.Set("endpoint", endpoint(conf)),
		); err != nil {
			return err
		}

		publisher := telemetry.New(conn, telemetry.Options{
			Stream:   conf.StatsStream,
			Prefix:   conf.KeyPrefix,
			Interval: conf.StatsInterval,
			Status:   status,
			Config: map[string]string{
				"version":        info.Version,
				"build":          info.Build,
				"endpoint":       endpoint(conf),
				"db":             strconv.Itoa(conf.RedisDB),
				"stats_stream":   conf.StatsStream,
				"stats_interval": conf.StatsInterval.String(),
			},
			Log: log,
		})

		conn.Start()
		go publisher.Run(ctx)

		router := setupRouter(conf.DebugHTTP, log)
		registerRoutes(router, conn, status)

		listener, err := transport.Listen(httpAddr, true)
		if err != nil {
			return multierr.Append(err, conn.Close())
		}

		s := &http.Server{Handler: router}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.String("httpAddr", listener.Addr().String()),
			zap.String("redis", endpoint(conf)),
			zap.String("statsStream", conf.StatsStream))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		err = multierr.Combine(s.Shutdown(ctx), conn.Close())
		if err != nil {
			log.Error("Forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return err
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
