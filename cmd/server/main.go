package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"voice-id/internal/app"
	"voice-id/internal/embeddings"
	"voice-id/internal/faults"
	"voice-id/internal/httputil"
	"voice-id/internal/identity"
	"voice-id/internal/profilestore"
	"voice-id/internal/registry"
)

type enrollRequest struct {
	Embedding []float32 `json:"embedding" validate:"required,min=1"`
}

type backupRequest struct {
	Target string `json:"target" validate:"omitempty,max=4096"`
}

type exportRequest struct {
	Output string `json:"output" validate:"omitempty,max=4096"`
}

type speakerResponse struct {
	identity.Summary
	Stats        identity.EmbeddingStats `json:"stats"`
	ExistsOnDisk bool                    `json:"exists_on_disk"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           routes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return backupLoop(ctx, deps)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("server stopped", "err", err)
	}
	saved := deps.Registry.SaveAll()
	deps.Log.Info("server shut down", "saved_profiles", saved)
}

func routes(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Route("/api/speakers", func(r chi.Router) {
		r.Get("/", listHandler(deps))
		r.Get("/{id}", speakerHandler(deps))
		r.Delete("/{id}", clearHandler(deps))
		r.Post("/{id}/samples", enrollHandler(deps))
		r.Delete("/{id}/samples/{index}", removeSampleHandler(deps))
		r.Get("/{id}/embedding", embeddingHandler(deps))
		r.Post("/{id}/reload", reloadHandler(deps))
	})
	r.Route("/api/storage", func(r chi.Router) {
		r.Get("/stats", statsHandler(deps))
		r.Post("/backup", backupHandler(deps))
		r.Post("/cleanup", cleanupHandler(deps))
		r.Post("/export", exportHandler(deps))
	})
	r.Get("/healthz", httputil.HealthHandler(deps))
	r.Handle("/metrics", httputil.MetricsHandler())

	return r
}

// backupLoop copies the profile directory every BACKUP_INTERVAL and
// refreshes the metadata export when one is configured.
func backupLoop(ctx context.Context, deps app.Deps) error {
	interval := deps.Config.BackupInterval
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runMaintenance(ctx, deps)
		}
	}
}

func runMaintenance(ctx context.Context, deps app.Deps) {
	if !deps.Registry.Backup(deps.Config.BackupDir) {
		deps.Log.Warn("scheduled backup failed")
	}
	if deps.Config.MetadataExportPath != "" {
		deps.Registry.ExportMetadata(ctx, deps.Config.MetadataExportPath)
	}
}

func enrollHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req enrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if err := deps.Registry.Enroll(r.Context(), id, embeddings.Vector(req.Embedding)); err != nil {
			fail(deps, w, "failed to enroll sample", err)
			return
		}
		sum, _ := deps.Registry.Speaker(id)
		httputil.WriteJSON(w, http.StatusCreated, sum)
	}
}

func listHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := deps.Registry.Speakers()
		speakers := make([]identity.Summary, 0, len(ids))
		for _, id := range ids {
			if sum, ok := deps.Registry.Speaker(id); ok {
				speakers = append(speakers, sum)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"speakers":       speakers,
			"total_speakers": len(speakers),
			"total_samples":  deps.Registry.TotalSamples(),
		})
	}
}

func speakerHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sum, ok := deps.Registry.Speaker(id)
		if !ok {
			fail(deps, w, "speaker not found", registry.ErrSpeakerNotFound)
			return
		}
		stats, _ := deps.Registry.Stats(id)
		httputil.WriteJSON(w, http.StatusOK, speakerResponse{
			Summary:      sum,
			Stats:        stats,
			ExistsOnDisk: deps.Registry.ExistsOnDisk(id),
		})
	}
}

func embeddingHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, err := deps.Registry.Embedding(r.Context(), id)
		if err != nil {
			fail(deps, w, "failed to compute embedding", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"speaker_id": id,
			"dimension":  v.Dim(),
			"embedding":  v,
		})
	}
}

func removeSampleHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid sample index", err, http.StatusBadRequest)
			return
		}
		if err := deps.Registry.RemoveSample(r.Context(), id, index); err != nil {
			fail(deps, w, "failed to remove sample", err)
			return
		}
		sum, _ := deps.Registry.Speaker(id)
		httputil.WriteJSON(w, http.StatusOK, sum)
	}
}

func clearHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Registry.ClearSpeaker(r.Context(), id); err != nil {
			fail(deps, w, "failed to clear speaker", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func reloadHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Registry.Reload(r.Context(), id); err != nil {
			fail(deps, w, "failed to reload speaker", err)
			return
		}
		sum, _ := deps.Registry.Speaker(id)
		httputil.WriteJSON(w, http.StatusOK, sum)
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Registry.StorageStats())
	}
}

func backupHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backupRequest
		if !decodeOptional(deps, w, r, &req) {
			return
		}
		target := deps.Config.BackupDir
		if req.Target != "" {
			base := deps.Config.BackupDir
			if base == "" {
				base = filepath.Join(deps.Store.Dir(), profilestore.BackupDirName)
			}
			var err error
			if target, err = confine(base, req.Target); err != nil {
				fail(deps, w, "invalid backup target", err)
				return
			}
		}
		if !deps.Registry.Backup(target) {
			httputil.Fail(deps.Log, w, "backup failed", nil, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"backed_up": true})
	}
}

func cleanupHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"removed": deps.Registry.CleanupOrphans()})
	}
}

func exportHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		if !decodeOptional(deps, w, r, &req) {
			return
		}
		output := deps.Config.MetadataExportPath
		if req.Output != "" {
			base := deps.Store.Dir()
			if output != "" {
				base = filepath.Dir(output)
			}
			var err error
			if output, err = confine(base, req.Output); err != nil {
				fail(deps, w, "invalid export output", err)
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, deps.Registry.ExportMetadata(r.Context(), output))
	}
}

// confine resolves a client supplied name under base. Absolute names and
// names that climb out of base are rejected.
func confine(base, name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", faults.Validation("resolve path", "%q is not a relative path", name)
	}
	return filepath.Join(base, name), nil
}

// decodeOptional decodes a JSON body into dst, accepting an empty body.
func decodeOptional(deps app.Deps, w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
		return false
	}
	if err := httputil.Validator.Struct(dst); err != nil {
		httputil.ValidationError(deps.Log, w, err)
		return false
	}
	return true
}

// fail maps registry errors to HTTP status codes.
func fail(deps app.Deps, w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrSpeakerNotFound):
		status, message = http.StatusNotFound, "speaker not found"
	case errors.Is(err, identity.ErrNoSamples):
		status = http.StatusConflict
	case errors.Is(err, faults.ErrValidation):
		status = http.StatusBadRequest
	}
	httputil.Fail(deps.Log, w, message, err, status)
}
