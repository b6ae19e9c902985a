package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/ingest"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/pipeline"
	"github.com/greenline-analytics/lca-cli/internal/store"
)

// maxUploadBytes bounds one job submission's total multipart payload.
const maxUploadBytes = 256 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeMux(ctx, env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
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

func newServeMux(ctx context.Context, env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		handleCreateJob(ctx, env, w, req)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		job, err := env.Store.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Get("/jobs/{id}/report", func(w http.ResponseWriter, req *http.Request) {
		data, contentType, err := env.Store.GetArtifact(req.Context(), chi.URLParam(req, "id"), pipeline.ArtifactReport)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	r.Get("/jobs/{id}/logs", func(w http.ResponseWriter, req *http.Request) {
		tail := 100
		if v := req.URL.Query().Get("tail"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				tail = n
			}
		}
		entries, err := env.Store.TailJobLog(req.Context(), chi.URLParam(req, "id"), tail)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	})

	return r
}

// handleCreateJob accepts a multipart submission (one or more "files" parts,
// optional "context" and "force_include_quarantined" fields), persists the
// raw bytes, and starts the pipeline asynchronously.
func handleCreateJob(runCtx context.Context, env *pipelineEnv, w http.ResponseWriter, req *http.Request) {
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart request"})
		return
	}

	files := req.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one file is required"})
		return
	}

	userContext := req.FormValue("context")
	forceInclude, _ := strconv.ParseBool(req.FormValue("force_include_quarantined"))

	job, err := env.Store.CreateJob(req.Context(), len(files), userContext)
	if err != nil {
		zap.L().Error("job create failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job create failed"})
		return
	}

	tasks := make([]model.FileTask, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("open %s failed", fh.Filename)})
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("read %s failed", fh.Filename)})
			return
		}

		task := ingest.NewTask(job.ID, fh.Filename, "", data)
		task.Locator = rawArtifactKey(task.FileID)
		if err := env.Store.PutArtifact(req.Context(), job.ID, task.Locator, fh.Header.Get("Content-Type"), data); err != nil {
			zap.L().Error("upload store failed", zap.String("file", fh.Filename), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "upload store failed"})
			return
		}
		tasks = append(tasks, task)
	}

	// The job outlives the request; it is bound to the server's lifetime.
	go func() {
		if _, err := env.Controller.Run(runCtx, job.ID, tasks, userContext, forceInclude); err != nil {
			zap.L().Error("job run failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"files":  len(tasks),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	zap.L().Error("store read failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
