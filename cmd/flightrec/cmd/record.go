package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/flightrec/internal/metrics"
	"github.com/snehjoshi/flightrec/internal/repository"
	"github.com/snehjoshi/flightrec/internal/sampler"
	transphttp "github.com/snehjoshi/flightrec/internal/transport/http"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Sample this process's goroutines into the chunk repository",
	RunE:  runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().String("data-dir", "", "repository directory (overrides recording.data_dir)")
	recordCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc, err := repositoryConfig(cfg)
	if err != nil {
		return err
	}

	repo, err := repository.Open(cfg.Recording.DataDir, rc)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Warn("repository close error", "err", err)
		}
	}()

	w, err := sampler.NewWriter(sampler.WithMaxStackDepth(cfg.Recording.MaxStackDepth))
	if err != nil {
		return err
	}
	reg := &metrics.Registry{}
	rec := sampler.NewRecorder(w, &sampler.GoroutineSource{}, repo, reg, sampler.RecorderConfig{
		SampleInterval: time.Duration(cfg.Recording.SampleIntervalMs) * time.Millisecond,
		ChunkInterval:  time.Duration(cfg.Recording.ChunkIntervalMs) * time.Millisecond,
	})

	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	if cfg.Server.Enabled {
		srv := transphttp.New(repo, rec, cfg.Server, reg)
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("chunk server listening", "addr", addr)
			if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("chunk server error", "err", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				slog.Warn("chunk server shutdown error", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	slog.Info("flightrec recording",
		"recording_id", repo.RecordingID(),
		"data_dir", repo.Dir(),
		"sample_interval_ms", cfg.Recording.SampleIntervalMs,
		"chunk_interval_ms", cfg.Recording.ChunkIntervalMs,
	)
	if err := rec.Run(ctx); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	slog.Info("flightrec stopped",
		"samples", reg.EventsWritten.Get(sampler.EventName),
		"chunks", reg.ChunksDumped.Get("sampler"),
	)
	return nil
}
