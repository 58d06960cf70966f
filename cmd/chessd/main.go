// Command chessd is the single-process authoritative chess server:
// websocket gateway, matchmaker, active-game lifecycle and the HTTP
// observability surface all run in one binary, wired together here
// the way the teacher's gameserver/main.go and matchmaker/main.go wire
// their own dependencies (typed env config, fatal on unreachable
// durable store, graceful shutdown on SIGINT/SIGTERM) — collapsed
// from the teacher's two gRPC processes into one, since this design
// has no network boundary between matchmaking and game session state
// (see the design ledger for why gRPC/protobuf were dropped).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/vimsent/chessd/internal/config"
	"github.com/vimsent/chessd/internal/lifecycle"
	"github.com/vimsent/chessd/internal/logging"
	"github.com/vimsent/chessd/internal/matchmaker"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/router"
	"github.com/vimsent/chessd/internal/transport"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := persistence.OpenPostgres(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logging.Fatal("cannot open durable store", "error", err)
	}
	defer pg.Close()

	if err := persistence.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logging.Fatal("schema migration failed", "error", err)
	}

	cache := persistence.OpenRedis(cfg.RedisAddr)
	defer cache.Close()

	gateway := persistence.New(pg, cache)

	rt := router.New(gateway, nil) // lifecycle wired in just below
	lc := lifecycle.New(gateway, rt)
	rt.SetLifecycle(lc)

	mm := matchmaker.New(gateway, lc, rt, rt, rt)
	rt.AttachMatchmaker(mm)

	go rt.RunLivenessSweep()
	defer rt.Stop()

	wsServer := transport.NewServer(gateway, rt)

	mux := mux.NewRouter()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/info", handleInfo(lc))
	mux.HandleFunc("/leaderboard", handleLeaderboard(gateway))
	mux.HandleFunc("/users/{id}/stats", handleUserStats(gateway))
	mux.HandleFunc("/games", handleGames(gateway))

	addr := ":" + strconv.Itoa(cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logging.Info("chessd listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("http server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("http shutdown did not complete cleanly", "error", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleInfo(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"activeGames": len(lc.Active()),
		})
	}
}

func handleLeaderboard(gateway *persistence.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		users, err := gateway.Store.Leaderboard(r.Context(), limit, 0)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load leaderboard"})
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func handleUserStats(gateway *persistence.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := mux.Vars(r)["id"]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
			return
		}
		u, found, err := gateway.Store.UserStats(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user"})
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such user"})
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func handleGames(gateway *persistence.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := gateway.Store.Games(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load games"})
			return
		}
		writeJSON(w, http.StatusOK, games)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", "error", err)
	}
}
