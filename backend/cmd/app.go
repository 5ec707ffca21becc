package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/waveroom/waveroom/backend/ratelimit"
	"github.com/waveroom/waveroom/backend/relay"
	httpServer "github.com/waveroom/waveroom/backend/server/http"
	websocketServer "github.com/waveroom/waveroom/backend/server/websocket"
	"github.com/waveroom/waveroom/backend/service"
	store "github.com/waveroom/waveroom/backend/storage/memory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr  = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr   = fs.StringP("ws-listen-addr", "w", ":8888", "websocket signaling listen address")
		logLevel       = fs.StringP("log-level", "l", "debug", "log level")
		maxRooms       = fs.Int("max-rooms", 100, "maximum number of rooms")
		maxConnections = fs.Int64("max-connections", 1000, "maximum number of concurrent websocket connections")
		idleTimeout    = fs.Duration("room-idle-timeout", store.DefaultIdleTimeout, "age after which an empty room is swept")
		sweepInterval  = fs.Duration("sweep-interval", store.DefaultSweepInterval, "how often stale empty rooms are swept")
		rateWindow     = fs.Duration("signal-rate-window", 50*time.Millisecond, "per-sender signaling window, 0 disables limiting")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	roomStore := store.NewStore(store.Config{
		Logger:        &logger,
		MaxRooms:      *maxRooms,
		IdleTimeout:   *idleTimeout,
		SweepInterval: *sweepInterval,
	})
	svc := service.NewService(service.Config{
		RoomStore: roomStore,
		Outbound:  relay.NewRelay(&logger),
		Limiter:   ratelimit.NewLimiter(nil, *rateWindow),
		Logger:    &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: svc,
		ListenAddr:       *wsListenAddr,
		MaxConnections:   *maxConnections,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go roomStore.Run(ctx, wg)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
