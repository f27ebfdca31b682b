package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/mkorchagin/pairchat/internal/adapters/http"
	"github.com/mkorchagin/pairchat/internal/adapters/ledger"
	"github.com/mkorchagin/pairchat/internal/adapters/matchq"
	"github.com/mkorchagin/pairchat/internal/app"
	"github.com/mkorchagin/pairchat/internal/app/orch"
	"github.com/mkorchagin/pairchat/internal/config"
	"github.com/mkorchagin/pairchat/internal/core"
)

const starterCoins = 100

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var (
		coins    core.CoinLedger
		sessions core.SessionLedger
		identity core.IdentityDirectory
	)
	if cfg.PostgresURL != "" {
		pg, err := ledger.NewPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connect")
		}
		defer pg.Close()
		coins, sessions, identity = pg, pg, pg
		log.Info().Msg("ledger: postgres")
	} else {
		mem := ledger.NewMemory(starterCoins)
		coins, sessions, identity = mem, mem, mem
		log.Warn().Msg("ledger: in-memory, state is lost on restart")
	}

	var matchQueue core.MatchQueue
	if cfg.RedisAddr != "" {
		rq, err := matchq.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer rq.Close()
		matchQueue = rq
		log.Info().Msg("match queue: redis")
	} else {
		matchQueue = matchq.NewMemory()
		log.Warn().Msg("match queue: in-memory, single process only")
	}

	limiter := app.NewMessageLimiter(cfg.Room.RateLimit, cfg.Room.RateWindow)
	rooms := app.NewRoomStore(limiter, cfg.Room.BufferSize, cfg.Room.TypingTTL)
	partners := app.NewPartnerHistory(cfg.Match.PartnerKeep, cfg.Match.PartnerTTL)
	matcher := app.NewMatcher(partners, rooms, cfg.Match.Delay, cfg.Match.DrainDelay)
	broker := app.NewBroker(rooms, cfg.Reconnect.Window, cfg.Reconnect.SessionGrace)

	o := orch.New(
		app.NewRegistry(), matcher, rooms, broker, app.NewBridge(),
		partners, limiter,
		identity, coins, sessions, matchQueue,
		orch.Options{
			MatchCost:       cfg.Coins.MatchCost,
			ReconnectWindow: cfg.Reconnect.Window,
			RoomMaxIdle:     cfg.Room.MaxIdle,
			RoomSweepEvery:  cfg.Room.SweepEvery,
			LimiterIdleTTL:  cfg.Room.LimiterIdleTTL,
			LimiterSweep:    cfg.Room.LimiterSweep,
			PartnerSweep:    cfg.Match.PartnerTTL,
		},
	)
	go o.Run(ctx)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("pairchat server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
