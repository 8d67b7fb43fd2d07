// Package analytics computes the user-event summary.
//
// Values are compared and stringified the way the collector always has: a
// missing user_id or session_id is one shared bucket, null is another, and
// histogram keys use the JavaScript string form of the value ("undefined",
// "null", "42", ...). The conversion funnel is four independent tallies,
// not a per-user sequence.
package analytics

import (
	"math"
	"strconv"
	"strings"

	"github.com/vincentbai/browsetrace-collector/internal/models"
)

// Funnel stages, keyed by the event_type that feeds them.
const (
	StagePageView = "page_view"
	StageDownload = "download_click"
	StageSignup   = "signup_attempt"
	StagePurchase = "purchase"
)

// Compute builds the summary in a single pass over records.
func Compute(records []models.Record) models.Summary {
	summary := models.NewSummary()
	summary.TotalEvents = len(records)

	users := make(map[identity]struct{})
	sessions := make(map[identity]struct{})

	for i, record := range records {
		users[identityOf(record, models.FieldUserID, i)] = struct{}{}
		sessions[identityOf(record, models.FieldSessionID, i)] = struct{}{}

		eventType, present := record[models.FieldEventType]
		summary.EventTypes[stringify(eventType, present)]++

		if device, ok := record[models.FieldDeviceType]; ok && truthy(device) {
			summary.DeviceBreakdown[stringify(device, true)]++
		}

		name, _ := eventType.(string)
		switch name {
		case StagePageView:
			summary.ConversionFunnel.PageViews++
		case StageDownload:
			summary.ConversionFunnel.Downloads++
		case StageSignup:
			summary.ConversionFunnel.Signups++
		case StagePurchase:
			summary.ConversionFunnel.Purchases++
		}
	}

	summary.UniqueUsers = len(users)
	summary.UniqueSessions = len(sessions)
	return summary
}

// identity is a set key that keeps JSON types apart ("1" and 1 differ).
type identity struct {
	kind  byte
	value string
}

const (
	kindMissing byte = iota
	kindNull
	kindString
	kindNumber
	kindBool
	kindComposite
)

func identityOf(r models.Record, field string, index int) identity {
	v, ok := r[field]
	if !ok {
		return identity{kind: kindMissing}
	}
	switch x := v.(type) {
	case nil:
		return identity{kind: kindNull}
	case string:
		return identity{kind: kindString, value: x}
	case float64:
		return identity{kind: kindNumber, value: formatNumber(x)}
	case bool:
		return identity{kind: kindBool, value: strconv.FormatBool(x)}
	default:
		// objects and arrays are distinct by reference
		return identity{kind: kindComposite, value: strconv.Itoa(index)}
	}
}

func stringify(v any, present bool) string {
	if !present {
		return "undefined"
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return formatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			if e != nil {
				parts[i] = stringify(e, true)
			}
		}
		return strings.Join(parts, ",")
	default:
		return "[object Object]"
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case bool:
		return x
	default:
		return true
	}
}

// formatNumber renders f like Number.prototype.toString.
func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs < 1e21 && abs >= 1e-6 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits
}
