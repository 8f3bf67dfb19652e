// Package server exposes run status, stored results and Prometheus metrics
// over HTTP while a batch is running.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/pipeline"
	"github.com/byteowlz/pinscrpr/internal/store"
)

type Results interface {
	Get(ctx context.Context, keyword string) (store.Record, error)
	List(ctx context.Context, runID string) ([]store.Record, error)
}

var _ Results = (*store.Store)(nil)

type Deps struct {
	Tracker *pipeline.Tracker
	// Results is optional; without it the /results routes answer 404.
	Results Results
	Logger  zerolog.Logger
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/progress", handleProgress(deps))
	r.Get("/results", handleListResults(deps))
	r.Get("/results/{keyword}", handleGetResult(deps))
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if deps.Tracker == nil {
			writeJSON(w, http.StatusOK, pipeline.Snapshot{})
			return
		}
		writeJSON(w, http.StatusOK, deps.Tracker.Snapshot())
	}
}

func handleListResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Results == nil {
			httpError(w, http.StatusNotFound, "result store disabled")
			return
		}
		records, err := deps.Results.List(r.Context(), r.URL.Query().Get("run_id"))
		if err != nil {
			deps.Logger.Error().Err(err).Msg("listing results")
			httpError(w, http.StatusInternalServerError, "failed to list results: %v", err)
			return
		}
		if records == nil {
			records = []store.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleGetResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Results == nil {
			httpError(w, http.StatusNotFound, "result store disabled")
			return
		}
		keyword := chi.URLParam(r, "keyword")
		rec, err := deps.Results.Get(r.Context(), keyword)
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "no result for %q", keyword)
			return
		}
		if err != nil {
			deps.Logger.Error().Err(err).Str("keyword", keyword).Msg("reading result")
			httpError(w, http.StatusInternalServerError, "failed to get result: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
