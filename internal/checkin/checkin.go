// Package checkin orchestrates the check-in pipeline: fresh location
// samples update geofence and authenticity state, captured artifacts
// enter the sync queue, and connectivity or timer triggers drain it.
//
// The loop has no algorithm of its own. It sequences the geo, spoof and
// syncqueue calls and surfaces their outputs unchanged.
package checkin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkind/internal/connectivity"
	"checkind/internal/geo"
	"checkind/internal/location"
	"checkind/internal/logging"
	"checkind/internal/spoof"
	"checkind/internal/syncqueue"
)

const (
	// DefaultDrainInterval is the periodic drain cadence. It exists to
	// catch backoff windows elapsing while the device stays online.
	DefaultDrainInterval = 15 * time.Second

	// DefaultStateKey is the durable-store key for the loop snapshot.
	DefaultStateKey = "checkin-state"

	payloadKeyPrefix = "artifact-payload/"
)

// Target is the configured check-in destination.
type Target struct {
	Name         string         `json:"name"`
	Address      string         `json:"address"`
	Coordinate   geo.Coordinate `json:"coordinate"`
	RadiusMeters float64        `json:"radius_meters"`
}

// GeofenceState is derived wholesale from the latest sample. Before the
// first sample DistanceMeters is +Inf and WithinFence is false.
type GeofenceState struct {
	WithinFence    bool    `json:"within_fence"`
	DistanceMeters float64 `json:"distance_meters"`
	BearingDegrees float64 `json:"bearing_degrees"`
}

// WatermarkData is the text burned into a captured photo.
type WatermarkData struct {
	TimestampMs int64          `json:"timestamp_ms"`
	Coordinate  geo.Coordinate `json:"coordinate"`
	Address     string         `json:"address"`
}

// Watermarker is the opaque compositing transform: bytes in, bytes with
// burned-in text out. Compositing itself happens outside this system.
type Watermarker interface {
	Apply(payload []byte, data WatermarkData) ([]byte, error)
}

// NoopWatermarker passes the payload through unchanged.
type NoopWatermarker struct{}

func (NoopWatermarker) Apply(payload []byte, data WatermarkData) ([]byte, error) {
	return payload, nil
}

// State is the loop's published snapshot.
type State struct {
	LastSample *location.Sample `json:"last_sample"`
	Geofence   GeofenceState    `json:"geofence"`
	Verdict    spoof.Verdict    `json:"verdict"`

	// LastError is the most recent collaborator failure (location
	// source permission loss, GPS off). Never folded into Geofence.
	LastError string `json:"last_error,omitempty"`
}

// Config tunes the loop.
type Config struct {
	Target        Target
	DrainInterval time.Duration
	StateKey      string
}

// Loop is the reconciliation orchestrator.
type Loop struct {
	cfg          Config
	detector     *spoof.Detector
	queue        *syncqueue.Queue
	source       location.Source
	connectivity connectivity.Checker
	persister    syncqueue.Persister
	watermarker  Watermarker
	log          *logging.Logger

	mu    sync.RWMutex
	state State

	now func() time.Time
}

// New creates a loop. The persister may be nil; the watermarker
// defaults to NoopWatermarker.
func New(cfg Config, detector *spoof.Detector, queue *syncqueue.Queue, source location.Source, conn connectivity.Checker, persister syncqueue.Persister, watermarker Watermarker, log *logging.Logger) *Loop {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.StateKey == "" {
		cfg.StateKey = DefaultStateKey
	}
	if watermarker == nil {
		watermarker = NoopWatermarker{}
	}
	if log == nil {
		log = logging.Default().WithComponent("checkin")
	}
	return &Loop{
		cfg:          cfg,
		detector:     detector,
		queue:        queue,
		source:       source,
		connectivity: conn,
		persister:    persister,
		watermarker:  watermarker,
		log:          log,
		state: State{
			Geofence: GeofenceState{DistanceMeters: math.Inf(1)},
		},
		now: time.Now,
	}
}

// stateSnapshot is the persisted part of State. Transient fields like
// LastError stay in memory only.
type stateSnapshot struct {
	LastSample *location.Sample `json:"last_sample"`
	Verdict    spoof.Verdict    `json:"verdict"`
}

// Load restores the last persisted sample and recomputes derived state
// from it.
func (l *Loop) Load() error {
	if l.persister == nil {
		return nil
	}

	raw, ok, err := l.persister.Get(l.cfg.StateKey)
	if err != nil {
		return fmt.Errorf("load checkin state: %w", err)
	}
	if !ok {
		return nil
	}

	var snap stateSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return fmt.Errorf("decode checkin state: %w", err)
	}
	if snap.LastSample == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.LastSample = snap.LastSample
	l.state.Verdict = snap.Verdict
	l.state.Geofence = l.geofenceFor(snap.LastSample.Coordinate)
	return nil
}

// HandleSample recomputes geofence state and the authenticity verdict
// for one fresh sample and publishes both.
func (l *Loop) HandleSample(sample location.Sample) {
	verdict := l.detector.Detect(
		sample.SystemReportedMock,
		sample.Coordinate.Latitude,
		sample.Coordinate.Longitude,
		sample.TimestampMs,
	)
	fence := l.geofenceFor(sample.Coordinate)

	l.mu.Lock()
	l.state.LastSample = &sample
	l.state.Geofence = fence
	l.state.Verdict = verdict
	l.state.LastError = ""
	l.persistLocked()
	l.mu.Unlock()

	if verdict.IsMocked {
		l.log.Warn("location flagged as spoofed",
			"confidence", verdict.Confidence, "reason", verdict.Reason)
	}
	l.log.Debug("sample processed",
		"within_fence", fence.WithinFence,
		"distance_m", fence.DistanceMeters,
		"bearing_deg", fence.BearingDegrees)
}

// HandleSourceError records a location-source failure. It is surfaced
// through State, not swallowed into a geofence state.
func (l *Loop) HandleSourceError(err error) {
	l.mu.Lock()
	l.state.LastError = err.Error()
	l.mu.Unlock()

	l.log.Error("location source failed", "error", err)
}

// geofenceFor derives the full geofence state for one position.
func (l *Loop) geofenceFor(pos geo.Coordinate) GeofenceState {
	target := l.cfg.Target.Coordinate
	return GeofenceState{
		WithinFence:    geo.WithinRadius(pos, target, l.cfg.Target.RadiusMeters),
		DistanceMeters: geo.DistanceMeters(pos, target),
		BearingDegrees: geo.BearingDegrees(pos, target),
	}
}

// Capture builds an artifact from the payload and the current state,
// applies the watermark transform, submits it to the sync queue, and
// opportunistically drains when already online. Requires a location fix.
func (l *Loop) Capture(ctx context.Context, payload []byte) (syncqueue.Artifact, error) {
	l.mu.RLock()
	sample := l.state.LastSample
	fence := l.state.Geofence
	verdict := l.state.Verdict
	l.mu.RUnlock()

	if sample == nil {
		return syncqueue.Artifact{}, location.ErrUnavailable
	}

	capturedAt := l.now().UnixMilli()
	stamped, err := l.watermarker.Apply(payload, WatermarkData{
		TimestampMs: capturedAt,
		Coordinate:  sample.Coordinate,
		Address:     l.cfg.Target.Address,
	})
	if err != nil {
		return syncqueue.Artifact{}, fmt.Errorf("watermark payload: %w", err)
	}

	id := uuid.NewString()
	payloadRef := payloadKeyPrefix + id
	if l.persister != nil {
		encoded := base64.StdEncoding.EncodeToString(stamped)
		if err := l.persister.Set(payloadRef, encoded); err != nil {
			return syncqueue.Artifact{}, fmt.Errorf("store payload: %w", err)
		}
	}

	artifact := syncqueue.Artifact{
		ID:         id,
		PayloadRef: payloadRef,
		Metadata: map[string]string{
			"target":       l.cfg.Target.Name,
			"latitude":     fmt.Sprintf("%.6f", sample.Coordinate.Latitude),
			"longitude":    fmt.Sprintf("%.6f", sample.Coordinate.Longitude),
			"within_fence": fmt.Sprintf("%t", fence.WithinFence),
			"distance_m":   fmt.Sprintf("%.1f", fence.DistanceMeters),
			"mocked":       fmt.Sprintf("%t", verdict.IsMocked),
			"confidence":   string(verdict.Confidence),
		},
		CapturedAtMs: capturedAt,
	}

	if err := l.queue.Submit(artifact); err != nil {
		return syncqueue.Artifact{}, err
	}
	l.log.Info("artifact captured", "id", id, "within_fence", fence.WithinFence)

	go l.queue.Drain(ctx)

	return artifact, nil
}

// Payload returns the stored payload bytes for an artifact.
func (l *Loop) Payload(ref string) ([]byte, error) {
	if l.persister == nil {
		return nil, fmt.Errorf("no durable store configured")
	}
	encoded, ok, err := l.persister.Get(ref)
	if err != nil {
		return nil, fmt.Errorf("load payload: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("payload not found: %s", ref)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return data, nil
}

// Run wires the triggers and blocks until the context is canceled:
// location samples and errors via subscription, an immediate drain on
// every offline-to-online transition, and the periodic drain timer.
func (l *Loop) Run(ctx context.Context) error {
	unsubSamples, err := l.source.Subscribe(l.HandleSample, l.HandleSourceError)
	if err != nil {
		return fmt.Errorf("subscribe location source: %w", err)
	}
	defer unsubSamples()

	unsubConn, err := l.connectivity.OnChange(func(online bool) {
		if online {
			l.log.Info("connectivity restored, draining queue")
			go l.queue.Drain(ctx)
		} else {
			l.log.Info("connectivity lost")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe connectivity source: %w", err)
	}
	defer unsubConn()

	l.queue.Drain(ctx)

	ticker := time.NewTicker(l.cfg.DrainInterval)
	defer ticker.Stop()

	l.log.Info("reconciliation loop running",
		"target", l.cfg.Target.Name, "drain_interval", l.cfg.DrainInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.queue.Drain(ctx)
		}
	}
}

// State returns the current published snapshot.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// persistLocked writes the loop snapshot through to the durable store.
// Caller holds l.mu. Store failures are logged, not fatal: derived
// state is recomputable from the next sample.
func (l *Loop) persistLocked() {
	if l.persister == nil || l.state.LastSample == nil {
		return
	}

	snap := stateSnapshot{
		LastSample: l.state.LastSample,
		Verdict:    l.state.Verdict,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		l.log.Error("encode checkin state", "error", err)
		return
	}
	if err := l.persister.Set(l.cfg.StateKey, string(data)); err != nil {
		l.log.Error("persist checkin state", "error", err)
	}
}
