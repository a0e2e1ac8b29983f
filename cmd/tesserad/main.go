package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tesseranet/tessera/internal/api"
	"github.com/tesseranet/tessera/internal/config"
	"github.com/tesseranet/tessera/internal/domain"
	"github.com/tesseranet/tessera/internal/ledger"
	"github.com/tesseranet/tessera/internal/store"
	"github.com/tesseranet/tessera/internal/token"
	"github.com/tesseranet/tessera/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ledgerStore ledger.Store
	if cfg.DBSource != "" {
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			logger.Error("unable to connect to database", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		ledgerStore = pg
	} else {
		logger.Warn("DB_SOURCE not set, using in-memory store")
		ledgerStore = store.NewMemory()
	}

	tokens := token.NewStore(cfg.TokenTTL)
	defer tokens.Close()

	auth := ws.AuthenticatorFunc(func(address, secret string) bool {
		return secret != "" && domain.AddressFromSecret(secret) == address
	})

	reg := ws.NewRegistry(tokens, auth, logger)
	bc := ws.NewBroadcaster(reg, cfg.KeepaliveInterval, logger)
	hub := ws.NewHub(reg, bc, cfg.MOTD, logger)
	go bc.Run(ctx)

	engine := ledger.NewEngine(ledgerStore, bc, &ledger.LogNotifier{Logger: logger},
		logger, cfg.NameCost, cfg.NameCostSink)
	handler := api.NewHandler(engine, tokens, hub, ledger.StaticWork(cfg.Work),
		auth, cfg.PublicURL, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	reg.CloseAll()
}
