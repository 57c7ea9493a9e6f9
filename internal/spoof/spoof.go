// Package spoof flags mock or spoofed GPS locations.
//
// Two detection strategies:
//   - The platform's own mock-location flag, which is authoritative and
//     yields a high-confidence verdict either way.
//   - A movement-speed heuristic over recent location history: a device
//     that "teleports" faster than physically possible is likely feeding
//     coordinates from a fake GPS app.
//
// The detector never errors. Missing history, clock anomalies, and
// NaN-producing inputs all degrade to a low-confidence "not mocked"
// verdict: blocking a legitimate check-in is the costlier failure mode,
// so the bias is toward false negatives.
package spoof

import (
	"fmt"
	"math"
	"sync"
)

// DefaultImpossibleSpeedMPS is the speed ceiling in meters per second.
// Speed of sound; no unaided check-in scenario should exceed it.
const DefaultImpossibleSpeedMPS = 340.0

// DefaultHistoryCapacity is the number of recent samples retained for
// heuristic analysis.
const DefaultHistoryCapacity = 10

// metersPerDegree is the small-angle degree-to-meter factor used by the
// heuristic's planar distance. Not geodesically exact, but the heuristic
// only needs a ceiling check at check-in distance scales; the geofence
// itself uses Haversine.
const metersPerDegree = 111320.0

// Confidence rates how strongly a verdict is supported.
type Confidence string

const (
	// ConfidenceHigh comes only from the system mock flag.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium comes from the movement heuristic.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow means no evidence either way.
	ConfidenceLow Confidence = "low"
)

// Verdict is the outcome of a spoof check.
type Verdict struct {
	IsMocked   bool       `json:"is_mocked"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
}

// historyEntry is one accepted location sample.
type historyEntry struct {
	Lat    float64
	Lng    float64
	TimeMs int64
}

// History is a bounded FIFO of accepted samples. The oldest entry is
// evicted on overflow. One History belongs to one Detector; it is an
// explicit object rather than package state so each device session (and
// each test) gets a fresh baseline.
type History struct {
	mu       sync.Mutex
	entries  []historyEntry
	capacity int
}

// NewHistory creates an empty history with the given capacity.
// Non-positive capacities fall back to the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity}
}

// Len returns the number of retained samples.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// last returns the most recent entry, if any.
func (h *History) last() (historyEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return historyEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// push appends an entry, evicting the oldest at capacity.
func (h *History) push(e historyEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[1:]
	}
}

// Detector runs spoof checks against its own location history.
type Detector struct {
	history       *History
	impossibleMPS float64
}

// Config configures a Detector.
type Config struct {
	// ImpossibleSpeedMPS is the heuristic speed ceiling.
	ImpossibleSpeedMPS float64

	// HistoryCapacity bounds the sample history.
	HistoryCapacity int
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		ImpossibleSpeedMPS: DefaultImpossibleSpeedMPS,
		HistoryCapacity:    DefaultHistoryCapacity,
	}
}

// NewDetector creates a detector with fresh history.
func NewDetector(cfg Config) *Detector {
	speed := cfg.ImpossibleSpeedMPS
	if speed <= 0 {
		speed = DefaultImpossibleSpeedMPS
	}
	return &Detector{
		history:       NewHistory(cfg.HistoryCapacity),
		impossibleMPS: speed,
	}
}

// History exposes the detector's history, mainly for inspection.
func (d *Detector) History() *History {
	return d.history
}

// CheckSystemFlag trusts the platform's mock-location flag
// unconditionally. Either outcome is high confidence.
func (d *Detector) CheckSystemFlag(systemReportedMock bool) Verdict {
	if systemReportedMock {
		return Verdict{
			IsMocked:   true,
			Confidence: ConfidenceHigh,
			Reason:     "system reports mock location enabled",
		}
	}
	return Verdict{
		IsMocked:   false,
		Confidence: ConfidenceHigh,
		Reason:     "system reports real location",
	}
}

// CheckMovementHeuristic compares a new sample against the most recent
// history entry. A speed above the ceiling flags the sample as mocked at
// medium confidence and leaves it out of history, so a rejected sample
// cannot poison later comparisons. Accepted samples are appended.
//
// Zero or negative elapsed time skips the speed check entirely; clock
// anomalies are not spoofing evidence.
func (d *Detector) CheckMovementHeuristic(lat, lng float64, timestampMs int64) Verdict {
	if prev, ok := d.history.last(); ok {
		elapsed := float64(timestampMs-prev.TimeMs) / 1000.0

		if elapsed > 0 {
			dLat := lat - prev.Lat
			dLng := lng - prev.Lng
			meters := math.Sqrt(dLat*dLat+dLng*dLng) * metersPerDegree
			speed := meters / elapsed

			if speed > d.impossibleMPS {
				return Verdict{
					IsMocked:   true,
					Confidence: ConfidenceMedium,
					Reason:     fmt.Sprintf("impossible movement speed detected: %d m/s", int(math.Round(speed))),
				}
			}
		}
	}

	d.history.push(historyEntry{Lat: lat, Lng: lng, TimeMs: timestampMs})

	return Verdict{
		IsMocked:   false,
		Confidence: ConfidenceLow,
		Reason:     "no anomalies detected in movement pattern",
	}
}

// Detect runs the combined check. The system flag short-circuits: a
// confirmed spoofed sample never reaches the heuristic, so it cannot
// contaminate the history baseline either.
func (d *Detector) Detect(systemReportedMock bool, lat, lng float64, timestampMs int64) Verdict {
	if v := d.CheckSystemFlag(systemReportedMock); v.IsMocked {
		return v
	}
	return d.CheckMovementHeuristic(lat, lng, timestampMs)
}
