package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/r-alonso-igme/manvapp/internal/config"
	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/httpapi"
	"github.com/r-alonso-igme/manvapp/internal/hub"
	"github.com/r-alonso-igme/manvapp/internal/session"
	"github.com/r-alonso-igme/manvapp/internal/store"
	"github.com/r-alonso-igme/manvapp/internal/stream"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	st, localOnly := openStore(cfg, clock, logger)
	defer func() { _ = st.Close() }()

	newSession := func(ctx context.Context, onEmpty func()) *session.Session {
		eng := engine.New("", "", engine.DefaultFormat)
		coord := stream.New(st, eng, clock, cfg.BaseURL, logger)
		return session.New(ctx, eng, coord, cfg.AdminPasswords, localOnly, onEmpty, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, newSession)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, st, cfg.SpectatorJoinDelay, cfg.AllowedOrigins, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openStore picks the realtime backend. A NATS that cannot be reached falls
// back to the in-process store: the scoreboard stays fully usable, only the
// cross-instance sync is lost. The second return marks that fallback so
// sessions can warn referees.
func openStore(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (store.Store, bool) {
	if cfg.StoreBackend == "nats" {
		st, err := store.NewNATS(cfg.NATSURL, cfg.NATSBucket, clock, logger)
		if err == nil {
			logger.Info("using nats store", zap.String("url", cfg.NATSURL), zap.String("bucket", cfg.NATSBucket))
			return st, false
		}
		logger.Warn("nats unreachable, running in local-only mode; check NATS_URL and that JetStream is enabled",
			zap.Error(err))
		return store.NewMemory(clock, logger), true
	}
	return store.NewMemory(clock, logger), false
}
