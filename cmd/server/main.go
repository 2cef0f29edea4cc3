package main

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"vod-packager/internal/orchestrator"
	"vod-packager/internal/platform/config"
	"vod-packager/internal/platform/logger"
	"vod-packager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second

	transcodeDrainTimeout = 10 * time.Second
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	store := orchestrator.NewAssetStore(cfg.UploadDir, cfg.StreamDir)
	if err := store.Init(); err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		log.Warn("transcoding engine not found, uploads will fail to transcode", "ffmpeg", cfg.FFmpegPath, "error", err)
	}

	met := metrics.New()
	engine := orchestrator.NewFFmpeg(cfg.FFmpegPath, log)
	jobs := []orchestrator.Job{
		&orchestrator.HLSJob{Engine: engine, SegmentSeconds: cfg.HLSSegmentSeconds, Timeout: cfg.TranscodeTimeout, Log: log},
		&orchestrator.DASHJob{Engine: engine, Timeout: cfg.TranscodeTimeout, Log: log},
	}
	coord := orchestrator.NewCoordinator(store, jobs, cfg.MaxConcurrentTranscodes, log, met)
	receiver := orchestrator.NewReceiver(store, orchestrator.ReceiverConfig{
		MaxBytes:          cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	}, log)
	svc := orchestrator.NewService(receiver, coord, log, met)
	catalog := orchestrator.NewCatalog(store)
	h := orchestrator.NewHandler(svc, orchestrator.NewStreamServer(store), catalog, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetAssetsAvailable(catalog.Count()) }).ServeHTTP(w, r)
	})
	h.Register(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"stream_dir", cfg.StreamDir,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"max_concurrent_transcodes", cfg.MaxConcurrentTranscodes,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(ctx)
	if shutdownErr != nil {
		log.Error("shutdown error", "error", shutdownErr)
	}

	// Kill whatever is still transcoding and let the jobs remove their
	// partial output before the process exits.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), transcodeDrainTimeout)
	defer closeCancel()
	if err := coord.Close(closeCtx); err != nil {
		log.Error("transcode drain error", "error", err)
		os.Exit(1)
	}
	if shutdownErr != nil {
		os.Exit(1)
	}

	log.Info("server stopped")
}
