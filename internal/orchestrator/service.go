package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"vod-packager/internal/platform/metrics"
)

// Result is what an ingest returns to the caller. URLs are populated for
// every format that succeeded, even when the combined outcome failed.
type Result struct {
	ID        AssetID
	HLSURL    string
	DASHURL   string
	PlayerURL string
	Outcome   CombinedOutcome
}

// Service runs the upload pipeline: receive, then transcode.
type Service struct {
	receiver    *Receiver
	coordinator *Coordinator
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// NewService wires a Receiver to a Coordinator. Metrics may be nil.
func NewService(receiver *Receiver, coordinator *Coordinator, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{receiver: receiver, coordinator: coordinator, log: log, metrics: m}
}

// MaxUploadBytes is the configured upload ceiling.
func (s *Service) MaxUploadBytes() int64 {
	return s.receiver.MaxBytes()
}

// Ingest stores body as a new asset and transcodes it. Validation and storage
// errors are returned before any transcoding starts. If ctx ends while the
// asset waits for a transcode slot, the asset is removed. When a job fails,
// the returned Result is still populated and the error joins each failing
// format's *TranscodeError.
func (s *Service) Ingest(ctx context.Context, filename string, size int64, body io.Reader) (Result, error) {
	up, err := s.receiver.Receive(ctx, filename, size, body)
	if err != nil {
		if IsValidationError(err) {
			s.log.Info("upload rejected", slog.String("filename", filename), slog.String("error", err.Error()))
			if s.metrics != nil {
				s.metrics.IncUploadsRejected(rejectionReason(err))
			}
		} else {
			s.log.Error("upload failed", slog.String("filename", filename), slog.String("error", err.Error()))
		}
		return Result{}, err
	}
	if s.metrics != nil {
		s.metrics.IncUploadsAccepted()
	}

	res := Result{ID: up.Asset.ID, PlayerURL: PlayerURL(up.Asset.ID)}
	outcome, err := s.coordinator.Transcode(ctx, up)
	res.Outcome = outcome
	if err != nil {
		s.log.Warn("transcode not started, removing asset",
			slog.String("asset_id", string(up.Asset.ID)),
			slog.String("error", err.Error()))
		if rmErr := s.receiver.store.Remove(up.Asset); rmErr != nil {
			s.log.Error("remove asset", slog.String("asset_id", string(up.Asset.ID)), slog.String("error", rmErr.Error()))
		}
		return Result{}, err
	}

	for _, f := range outcome.Succeeded() {
		switch f {
		case FormatHLS:
			res.HLSURL = StreamURL(res.ID, f)
		case FormatDASH:
			res.DASHURL = StreamURL(res.ID, f)
		}
	}
	if !outcome.OK() {
		return res, fmt.Errorf("transcoding failed for %s: %w", failedFormatsMessage(outcome.Failed()), outcome.Err())
	}
	return res, nil
}
