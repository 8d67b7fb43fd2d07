package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-collector/internal/models"
)

// decode builds records the way every store returns them.
func decode(t *testing.T, raw string) []models.Record {
	t.Helper()
	var records []models.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &records))
	return records
}

func TestComputeEmpty(t *testing.T) {
	for _, records := range [][]models.Record{nil, {}} {
		summary := Compute(records)

		assert.Equal(t, 0, summary.TotalEvents)
		assert.Equal(t, 0, summary.UniqueUsers)
		assert.Equal(t, 0, summary.UniqueSessions)
		assert.NotNil(t, summary.EventTypes)
		assert.Empty(t, summary.EventTypes)
		assert.NotNil(t, summary.DeviceBreakdown)
		assert.Empty(t, summary.DeviceBreakdown)
		assert.Equal(t, models.Funnel{}, summary.ConversionFunnel)
	}
}

func TestComputeBasic(t *testing.T) {
	records := decode(t, `[
		{"event_type": "page_view", "user_id": "u1", "session_id": "s1"},
		{"event_type": "page_view", "user_id": "u1", "session_id": "s1"},
		{"event_type": "download_click", "user_id": "u2", "session_id": "s2"}
	]`)

	summary := Compute(records)

	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, 2, summary.UniqueUsers)
	assert.Equal(t, 2, summary.UniqueSessions)
	assert.Equal(t, map[string]int{"page_view": 2, "download_click": 1}, summary.EventTypes)
	assert.Empty(t, summary.DeviceBreakdown)
	assert.Equal(t, models.Funnel{PageViews: 2, Downloads: 1}, summary.ConversionFunnel)
}

func TestComputeFunnelIsIndependentTallies(t *testing.T) {
	// u3 purchases without ever viewing a page; it still counts
	records := decode(t, `[
		{"event_type": "purchase", "user_id": "u3", "amount": 49.99},
		{"event_type": "signup_attempt", "user_id": "u4"},
		{"event_type": "signup_attempt", "user_id": "u4"},
		{"event_type": "page_view", "user_id": "u5"},
		{"event_type": "scroll", "user_id": "u5", "depth": 50},
		{"event_type": "Purchase", "user_id": "u6"}
	]`)

	summary := Compute(records)

	assert.Equal(t, models.Funnel{PageViews: 1, Signups: 2, Purchases: 1}, summary.ConversionFunnel)
	assert.Equal(t, 1, summary.EventTypes["Purchase"])
}

func TestComputeDeviceBreakdown(t *testing.T) {
	records := decode(t, `[
		{"event_type": "user_info", "device_type": "mobile"},
		{"event_type": "user_info", "device_type": "desktop"},
		{"event_type": "user_info", "device_type": "mobile"},
		{"event_type": "click"},
		{"event_type": "click", "device_type": ""},
		{"event_type": "click", "device_type": null},
		{"event_type": "click", "device_type": 0},
		{"event_type": "click", "device_type": false},
		{"event_type": "click", "device_type": 2}
	]`)

	summary := Compute(records)

	assert.Equal(t, map[string]int{"mobile": 2, "desktop": 1, "2": 1}, summary.DeviceBreakdown)
	assert.NotContains(t, summary.DeviceBreakdown, "undefined")
	assert.NotContains(t, summary.DeviceBreakdown, "null")
	assert.NotContains(t, summary.DeviceBreakdown, "")
}

func TestComputeSingleMobileIncrementsByOne(t *testing.T) {
	before := Compute(decode(t, `[{"event_type": "page_view"}]`))
	after := Compute(decode(t, `[{"event_type": "page_view"}, {"event_type": "page_view", "device_type": "mobile"}]`))

	assert.Equal(t, 0, before.DeviceBreakdown["mobile"])
	assert.Equal(t, 1, after.DeviceBreakdown["mobile"])
}

func TestComputeMissingIdentifiersShareOneBucket(t *testing.T) {
	records := decode(t, `[
		{"event_type": "page_view"},
		{"event_type": "page_view"},
		{"event_type": "page_view", "user_id": null, "session_id": null},
		{"event_type": "page_view", "user_id": "u1", "session_id": "s1"}
	]`)

	summary := Compute(records)

	// missing, null and "u1"
	assert.Equal(t, 3, summary.UniqueUsers)
	assert.Equal(t, 3, summary.UniqueSessions)
}

func TestComputeIdentifiersKeepJSONTypesApart(t *testing.T) {
	records := decode(t, `[
		{"user_id": "1"},
		{"user_id": 1},
		{"user_id": 1.0},
		{"user_id": true},
		{"user_id": "true"},
		{"user_id": {"id": 1}},
		{"user_id": {"id": 1}}
	]`)

	summary := Compute(records)

	// "1", 1, true, "true" and two distinct objects
	assert.Equal(t, 6, summary.UniqueUsers)
	// every record lacks session_id
	assert.Equal(t, 1, summary.UniqueSessions)
}

func TestComputeEventTypeKeys(t *testing.T) {
	records := decode(t, `[
		{"user_id": "u1"},
		{"event_type": null},
		{"event_type": 42},
		{"event_type": true},
		{"event_type": ["a", null, 1]},
		{"event_type": {"nested": true}},
		{"event_type": "page_view"}
	]`)

	summary := Compute(records)

	assert.Equal(t, map[string]int{
		"undefined":       1,
		"null":            1,
		"42":              1,
		"true":            1,
		"a,,1":            1,
		"[object Object]": 1,
		"page_view":       1,
	}, summary.EventTypes)
}

func TestComputeIsIdempotent(t *testing.T) {
	records := decode(t, `[
		{"event_type": "page_view", "user_id": "u1", "session_id": "s1", "device_type": "tablet"},
		{"event_type": "purchase", "user_id": "u2", "session_id": "s2"}
	]`)

	assert.Equal(t, Compute(records), Compute(records))
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-7, "-7"},
		{1.5, "1.5"},
		{0.000001, "0.000001"},
		{0.0000001, "1e-7"},
		{1e21, "1e+21"},
		{123456789012, "123456789012"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.in), "formatNumber(%v)", tt.in)
	}
}
