package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/config"
	"github.com/sells-group/exposure-cli/internal/exposure"
	"github.com/sells-group/exposure-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the exposure HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		orch := buildOrchestrator(buildEvaluator())
		router := newRouter(cfg, orch, st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// exposureRequest is the body of POST /v1/exposure.
type exposureRequest struct {
	TripID string          `json:"trip_id"`
	Route  json.RawMessage `json:"route"`
	Layers []string        `json:"layers,omitempty"`
	Save   bool            `json:"save,omitempty"`
}

// newRouter builds the HTTP API. Exposure computation runs synchronously in
// the request; heavy batch work belongs in the batch command.
func newRouter(cfg *config.Config, orch *exposure.Orchestrator, st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/exposure", func(w http.ResponseWriter, r *http.Request) {
		var req exposureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TripID == "" || len(req.Route) == 0 {
			writeError(w, http.StatusBadRequest, "trip_id and route are required")
			return
		}

		var g geom.T
		if err := geojson.Unmarshal(req.Route, &g); err != nil {
			writeError(w, http.StatusBadRequest, "route must be a GeoJSON LineString")
			return
		}
		route, ok := g.(*geom.LineString)
		if !ok || route.NumCoords() < 2 {
			writeError(w, http.StatusBadRequest, "route must be a LineString with at least 2 vertices")
			return
		}

		layers := cfg.Layers
		if len(req.Layers) > 0 {
			layers = layers[:0:0]
			for _, name := range req.Layers {
				layer, ok := cfg.LayerByName(name)
				if !ok {
					writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown layer %q", name))
					return
				}
				layers = append(layers, layer)
			}
		}

		rec, err := orch.Run(r.Context(), exposure.Trip{ID: req.TripID, Route: route}, layers)
		if err != nil {
			zap.L().Error("exposure request failed",
				zap.String("trip_id", req.TripID),
				zap.Error(err),
			)
			if eris.Is(err, exposure.ErrDuplicateLayerKey) || eris.Is(err, exposure.ErrInvalidInterval) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, "exposure computation failed")
			return
		}

		if req.Save && st != nil {
			if err := st.SaveRecord(r.Context(), rec); err != nil {
				zap.L().Error("save record failed", zap.String("trip_id", rec.TripID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to persist record")
				return
			}
			if _, err := st.SaveStatRows(r.Context(), exposure.BuildStatRows(rec)); err != nil {
				zap.L().Error("save stat rows failed", zap.String("trip_id", rec.TripID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to persist stat rows")
				return
			}
		}

		writeJSON(w, http.StatusOK, rec)
	})

	r.Get("/v1/trips", func(w http.ResponseWriter, r *http.Request) {
		filter := store.RecordFilter{Layer: r.URL.Query().Get("layer")}
		ids, err := st.ListTripIDs(r.Context(), filter)
		if err != nil {
			zap.L().Error("list trips failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list trips")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"trip_ids": ids})
	})

	r.Get("/v1/trips/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := st.GetRecord(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "trip not found")
				return
			}
			zap.L().Error("get trip failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load trip")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
