// Package emeter gives callers unit-aware accessors over the raw
// energy-meter reading a device returns, instead of making every
// caller remember which of the native or milli-scaled key happened to
// be present on a given firmware.
package emeter

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned by Lookup for any name other than the
// four known bases or their milli-scaled variants.
var ErrUnknownKey = errors.New("emeter: unknown key")

// emeterField describes one (base, milli) key pair. total is in kWh
// natively and Wh in its scaled form; the others are in volts/amps/
// watts natively and milli-volts/milli-amps/milli-watts scaled. All
// four pairs share the same ×1000/÷1000 relationship regardless of
// what the units are actually called.
type emeterField struct {
	base  string
	scale string
}

var knownFields = []emeterField{
	{base: "voltage", scale: "voltage_mv"},
	{base: "current", scale: "current_ma"},
	{base: "power", scale: "power_mw"},
	{base: "total", scale: "total_wh"},
}

func fieldFor(key string) (emeterField, bool, bool) {
	for _, f := range knownFields {
		if key == f.base {
			return f, false, true
		}
		if key == f.scale {
			return f, true, true
		}
	}
	return emeterField{}, false, false
}

// Status wraps one device's raw energy-meter reading, keyed the way
// the device returns it (e.g. "voltage_mv" rather than "voltage").
type Status map[string]interface{}

func floatValue(raw map[string]interface{}, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Lookup resolves key to a value, scaling from whichever of the
// native/milli key is actually present when the requested one is
// absent. A nil result with a nil error means the reading is missing
// from this Status; a non-nil error means key is not one of the four
// known fields (or their scaled forms).
func (s Status) Lookup(key string) (*float64, error) {
	field, wantsScaled, known := fieldFor(key)
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if wantsScaled {
		if v, ok := floatValue(s, field.scale); ok {
			return &v, nil
		}
		if v, ok := floatValue(s, field.base); ok {
			scaled := v * 1000
			return &scaled, nil
		}
		return nil, nil
	}

	if v, ok := floatValue(s, field.base); ok {
		return &v, nil
	}
	if v, ok := floatValue(s, field.scale); ok {
		scaled := v / 1000
		return &scaled, nil
	}
	return nil, nil
}

func (s Status) get(key string) *float64 {
	v, err := s.Lookup(key)
	if err != nil {
		return nil
	}
	return v
}

// Voltage returns the native-unit voltage reading, nil if absent.
func (s Status) Voltage() *float64 { return s.get("voltage") }

// VoltageMV returns the milli-volt reading, nil if absent.
func (s Status) VoltageMV() *float64 { return s.get("voltage_mv") }

// Current returns the native-unit current reading, nil if absent.
func (s Status) Current() *float64 { return s.get("current") }

// CurrentMA returns the milli-amp reading, nil if absent.
func (s Status) CurrentMA() *float64 { return s.get("current_ma") }

// Power returns the native-unit power reading, nil if absent.
func (s Status) Power() *float64 { return s.get("power") }

// PowerMW returns the milli-watt reading, nil if absent.
func (s Status) PowerMW() *float64 { return s.get("power_mw") }

// Total returns the cumulative energy reading in kWh, nil if absent.
func (s Status) Total() *float64 { return s.get("total") }

// TotalWH returns the cumulative energy reading in Wh, nil if absent.
func (s Status) TotalWH() *float64 { return s.get("total_wh") }
