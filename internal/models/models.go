package models

import (
	"encoding/json"
	"fmt"
)

// Record is one stored payload. Values are whatever encoding/json produces:
// string, float64, bool, nil, map[string]any or []any.
type Record map[string]any

// Well-known record keys.
const (
	FieldEventType  = "event_type"
	FieldUserID     = "user_id"
	FieldSessionID  = "session_id"
	FieldDeviceType = "device_type"

	// set by the server on ingestion
	FieldIP        = "ip"
	FieldCreatedAt = "created_at"
)

// TimeLayout is the ISO-8601 layout used for server receipt times.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Scroll struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Click struct {
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	PageX     float64  `json:"pageX"`
	PageY     float64  `json:"pageY"`
	Timestamp float64  `json:"timestamp"` // epoch millis, client clock
	Element   string   `json:"element"`
	ClassName any      `json:"className"` // string for HTML, object for SVG elements
	ID        string   `json:"id"`
	Viewport  Viewport `json:"viewport"`
	Scroll    Scroll   `json:"scroll"`
}

// HeatmapBatch is the typed view of a heatmap submission. The stored record
// stays the untouched map; this view is only decoded best-effort.
type HeatmapBatch struct {
	Clicks    []Click `json:"clicks"`
	PageURL   string  `json:"page_url"`
	UserID    *string `json:"user_id"` // nullable
	Timestamp string  `json:"timestamp"`
}

// DecodeHeatmapBatch reads the typed view out of a heatmap record.
func DecodeHeatmapBatch(r Record) (HeatmapBatch, error) {
	var batch HeatmapBatch
	data, err := json.Marshal(r)
	if err != nil {
		return batch, fmt.Errorf("failed to marshal heatmap record: %w", err)
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("failed to decode heatmap batch: %w", err)
	}
	return batch, nil
}

// Funnel holds independent per-event-type tallies.
type Funnel struct {
	PageViews int `json:"page_views"`
	Downloads int `json:"downloads"`
	Signups   int `json:"signups"`
	Purchases int `json:"purchases"`
}

type Summary struct {
	TotalEvents      int            `json:"total_events"`
	UniqueUsers      int            `json:"unique_users"`
	UniqueSessions   int            `json:"unique_sessions"`
	EventTypes       map[string]int `json:"event_types"`
	DeviceBreakdown  map[string]int `json:"device_breakdown"`
	ConversionFunnel Funnel         `json:"conversion_funnel"`
}

// NewSummary returns a zero summary with empty, non-nil histograms.
func NewSummary() Summary {
	return Summary{
		EventTypes:      map[string]int{},
		DeviceBreakdown: map[string]int{},
	}
}
