package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/voltwatch/voltwatch/pkg/common"
	"github.com/voltwatch/voltwatch/pkg/load"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/metrics"
	"github.com/voltwatch/voltwatch/pkg/server"
	"github.com/voltwatch/voltwatch/pkg/simulator"
	"github.com/voltwatch/voltwatch/pkg/storage"
	"github.com/voltwatch/voltwatch/pkg/weather"
)

func main() {
	metrics.Init()

	// init packages
	s := storage.Configured()
	w := weather.Configured()
	l := load.Configured()
	sim := simulator.Configured(s, w, l)

	// init server
	srv := server.Configured(sim, s)

	runOnce := lflag.Bool("run-once", false, "Run a single tick and exit instead of serving HTTP")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()), slog.String("version", common.Version()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if *runOnce {
		summary, err := sim.Tick(ctx, time.Now())
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "tick failed", slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "tick finished", slog.Any("summary", summary))
		return
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
