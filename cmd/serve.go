package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/cost"
	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/monitoring"
	"github.com/scribeworks/formfill-cli/internal/pipeline"
	"github.com/scribeworks/formfill-cli/internal/quota"
	"github.com/scribeworks/formfill-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initProcessor(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		uploadDir, err := os.MkdirTemp("", "formfill-uploads-")
		if err != nil {
			return eris.Wrap(err, "create upload dir")
		}
		defer os.RemoveAll(uploadDir)

		collector := monitoring.NewCollector(env.Store,
			cost.NewCalculator(cost.DefaultRates()), cfg.Oracle.ExtractorModel)
		checker := monitoring.NewChecker(collector,
			monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		api := &apiServer{
			processor: env.Processor,
			collector: collector,
			uploadDir: uploadDir,
			lookback:  cfg.Monitoring.LookbackWindowHours,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type apiServer struct {
	processor *pipeline.Processor
	collector *monitoring.Collector
	uploadDir string
	lookback  int
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-User-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/process", func(r chi.Router) {
		r.Post("/", s.handleProcess)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/data", s.handleSubmit)
			r.Get("/status", s.handleStatus)
			r.Get("/result", s.handleResult)
			r.Delete("/", s.handleDelete)
		})
	})
	r.Get("/history", s.handleHistory)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/batch", s.handleBatch)
	r.Get("/batch/{id}", s.handleBatchStatus)

	return r
}

// handleProcess accepts a multipart upload under the "form" field and starts
// a processing record for it.
func (s *apiServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ref, err := s.saveUpload(r, "form")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := s.processor.Start(r.Context(), userID, ref)
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var data model.SubmittedData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	rec, err := s.processor.SubmitUserData(r.Context(), userID, chi.URLParam(r, "id"), data)
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	report, err := s.processor.Status(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	rec, err := s.processor.Result(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := s.processor.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeProcessorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	records, err := s.processor.History(r.Context(), userID,
		model.Status(r.URL.Query().Get("status")), 0, 0)
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, eris.New("metrics collection disabled"))
		return
	}
	snap, err := s.collector.Collect(r.Context(), s.lookback)
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleBatch accepts multiple files under the "forms" field and queues them
// as one background batch. Progress is polled via GET /batch/{id}.
func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "parse multipart form"))
		return
	}

	var refs []model.FileRef
	for _, fh := range r.MultipartForm.File["forms"] {
		ref, err := s.saveUploadHeader(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		refs = append(refs, ref)
	}

	batch, err := s.processor.StartBatch(r.Context(), userID, refs)
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (s *apiServer) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	batch, err := s.processor.BatchStatus(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// saveUpload writes the named multipart file to the upload dir and returns
// its reference.
func (s *apiServer) saveUpload(r *http.Request, field string) (model.FileRef, error) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		return model.FileRef{}, eris.Wrap(err, "parse multipart form")
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return model.FileRef{}, eris.Errorf("missing %q file", field)
	}
	return s.saveUploadHeader(files[0])
}

func (s *apiServer) saveUploadHeader(fh *multipart.FileHeader) (model.FileRef, error) {
	src, err := fh.Open()
	if err != nil {
		return model.FileRef{}, eris.Wrap(err, "open upload")
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.uploadDir, "*-"+filepath.Base(fh.Filename))
	if err != nil {
		return model.FileRef{}, eris.Wrap(err, "create upload file")
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		return model.FileRef{}, eris.Wrap(err, "save upload")
	}

	return model.FileRef{
		Name: filepath.Base(fh.Filename),
		Size: size,
		Path: dst.Name(),
	}, nil
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, eris.New("X-User-ID header is required"))
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeProcessorError maps domain errors onto HTTP statuses.
func writeProcessorError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case eris.Is(err, pipeline.ErrNotReady):
		writeError(w, http.StatusConflict, err)
	case eris.Is(err, quota.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, err)
	case eris.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, err)
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
