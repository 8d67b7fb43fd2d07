// Package tracking accepts behavioral events into the store and computes the
// analytics summary over them.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vincentbai/browsetrace-collector/internal/analytics"
	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/observability"
	"github.com/vincentbai/browsetrace-collector/internal/store"
)

// Meta is what the transport knows about a submission.
type Meta struct {
	ClientIP   string
	ReceivedAt time.Time
}

type Service struct {
	handle  *store.Handle
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewService builds a service over h. metrics may be nil.
func NewService(h *store.Handle, metrics *observability.Metrics) *Service {
	return &Service{
		handle:  h,
		metrics: metrics,
		tracer:  otel.Tracer(observability.ServiceName),
	}
}

// PingTimeout bounds a single backend health check.
const PingTimeout = time.Second

// Ready reports whether the store has been opened.
func (s *Service) Ready() bool {
	return s.handle.Ready()
}

// Ping checks that the opened backend still answers.
func (s *Service) Ping(ctx context.Context) error {
	st, err := s.handle.Store()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("storage ping failed")
		return err
	}
	return nil
}

// Ingest stamps r with the client IP and receipt time and appends it to c.
// The caller's map is not modified.
func (s *Service) Ingest(ctx context.Context, c store.Collection, r models.Record, meta Meta) error {
	ctx, span := s.tracer.Start(ctx, "tracking.Ingest",
		trace.WithAttributes(attribute.String("collection", string(c))))
	defer span.End()

	if err := store.Check(c); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	st, err := s.handle.Store()
	if err != nil {
		s.metrics.RecordIngestFailure(string(c), "storage_unavailable")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	record := r.Clone()
	record[models.FieldIP] = meta.ClientIP
	record[models.FieldCreatedAt] = meta.ReceivedAt.UTC().Format(models.TimeLayout)

	if err := st.Append(ctx, c, record); err != nil {
		if !errors.Is(err, store.ErrPersistence) {
			err = fmt.Errorf("%w: %w", store.ErrPersistence, err)
		}
		log.Error().Err(err).Str("collection", string(c)).Str("ip", meta.ClientIP).Msg("failed to store record")
		s.metrics.RecordIngestFailure(string(c), "persistence")
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return err
	}

	s.metrics.RecordIngest(string(c))
	if c == store.Heatmap {
		if batch, err := models.DecodeHeatmapBatch(record); err == nil {
			s.metrics.RecordHeatmapClicks(len(batch.Clicks))
			span.SetAttributes(attribute.Int("clicks", len(batch.Clicks)))
		} else {
			log.Debug().Err(err).Msg("heatmap batch has an unexpected shape")
		}
	}

	log.Debug().
		Str("collection", string(c)).
		Interface("event_type", record[models.FieldEventType]).
		Msg("record stored")
	return nil
}

// Stats reads the whole events collection and summarizes it. Nothing is cached.
func (s *Service) Stats(ctx context.Context) (models.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "tracking.Stats")
	defer span.End()

	st, err := s.handle.Store()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.Summary{}, err
	}

	start := time.Now()
	records, err := st.List(ctx, store.Events)
	if err != nil {
		if !errors.Is(err, store.ErrPersistence) {
			err = fmt.Errorf("%w: %w", store.ErrPersistence, err)
		}
		log.Error().Err(err).Msg("failed to read events")
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return models.Summary{}, err
	}

	summary := analytics.Compute(records)
	s.metrics.ObserveAnalytics(len(records), time.Since(start))
	span.SetAttributes(attribute.Int("records", len(records)))
	return summary, nil
}
