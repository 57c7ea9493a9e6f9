// Package location defines the device location source contract and a
// replayable implementation for demos and tests.
//
// Samples pass the platform's accuracy and mock-location flag through
// untouched; interpreting them is the spoof detector's job.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"checkind/internal/geo"
)

// ErrUnavailable is returned when no location fix exists yet.
var ErrUnavailable = errors.New("location unavailable")

// Sample is one location reading. Never mutated after creation.
type Sample struct {
	Coordinate         geo.Coordinate `json:"coordinate"`
	TimestampMs        int64          `json:"timestamp_ms"`
	SystemReportedMock bool           `json:"system_reported_mock"`
	AccuracyMeters     *float64       `json:"accuracy_meters"`
}

// Source produces location samples, pull and push.
type Source interface {
	// Current returns the latest known sample, or ErrUnavailable.
	Current(ctx context.Context) (Sample, error)

	// Subscribe registers callbacks for samples and source errors and
	// returns an unsubscribe function.
	Subscribe(onSample func(Sample), onError func(error)) (func(), error)
}

// subscriber pairs the two callbacks of one subscription.
type subscriber struct {
	onSample func(Sample)
	onError  func(error)
}

// ManualSource is a Source driven by explicit Emit calls. It backs the
// replay source and is the natural test double.
type ManualSource struct {
	mu      sync.Mutex
	current *Sample
	subs    map[int]subscriber
	nextID  int
}

// NewManualSource creates an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{subs: make(map[int]subscriber)}
}

// Emit publishes a sample to all subscribers and records it as current.
func (s *ManualSource) Emit(sample Sample) {
	s.mu.Lock()
	s.current = &sample
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onSample != nil {
			sub.onSample(sample)
		}
	}
}

// EmitError reports a source failure (permission loss, GPS off) to all
// subscribers. It is surfaced as an explicit error, never folded into a
// sample.
func (s *ManualSource) EmitError(err error) {
	s.mu.Lock()
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Current returns the most recently emitted sample.
func (s *ManualSource) Current(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Sample{}, ErrUnavailable
	}
	return *s.current, nil
}

// Subscribe registers callbacks and returns an unsubscribe function.
func (s *ManualSource) Subscribe(onSample func(Sample), onError func(error)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = subscriber{onSample: onSample, onError: onError}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

// ReplaySource replays a scripted sequence of samples at a fixed
// cadence. Used by the daemon when pointed at a script file, and by
// integration tests.
type ReplaySource struct {
	*ManualSource
	samples  []Sample
	interval time.Duration
}

// NewReplaySource creates a replay source over the given samples.
func NewReplaySource(samples []Sample, interval time.Duration) *ReplaySource {
	return &ReplaySource{
		ManualSource: NewManualSource(),
		samples:      samples,
		interval:     interval,
	}
}

// LoadScript reads a JSON array of samples from a file.
func LoadScript(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read location script: %w", err)
	}

	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decode location script: %w", err)
	}
	return samples, nil
}

// Run emits the scripted samples until the script ends or the context is
// canceled. Blocks; run it in its own goroutine.
func (r *ReplaySource) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for _, sample := range r.samples {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Emit(sample)
		}
	}
}
