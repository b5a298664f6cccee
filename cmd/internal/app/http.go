package app

import (
	"net/http"
	"time"

	authapi "traq/cmd/internal/auth/api"
	"traq/cmd/internal/board"
	"traq/cmd/internal/feed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	dbPool *pgxpool.Pool,
	auth *authapi.Handler,
	boardAPI *board.Handler,
	ws *feed.Gateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "err", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	auth.Register(mux)
	auth.RegisterAdmin(mux)
	boardAPI.Register(mux)

	mux.HandleFunc("/ws/activity", ws.HandleWS)
}
