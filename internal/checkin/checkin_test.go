package checkin

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkind/internal/connectivity"
	"checkind/internal/geo"
	"checkind/internal/location"
	"checkind/internal/spoof"
	"checkind/internal/syncqueue"
)

// Test fixtures

var testTarget = Target{
	Name:         "Drake Bay Station",
	Address:      "Drake Bay, Osa Peninsula",
	Coordinate:   geo.Coordinate{Latitude: 8.639, Longitude: -83.162},
	RadiusMeters: 500,
}

type memPersister struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string]string)}
}

func (m *memPersister) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memPersister) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memPersister) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type countingDeliverer struct {
	mu       sync.Mutex
	outcome  syncqueue.Outcome
	attempts int
}

func (c *countingDeliverer) Deliver(ctx context.Context, a syncqueue.Artifact) (syncqueue.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.outcome, nil
}

func (c *countingDeliverer) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

type fixture struct {
	loop      *Loop
	source    *location.ManualSource
	conn      *connectivity.Manual
	queue     *syncqueue.Queue
	deliverer *countingDeliverer
	persister *memPersister
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()

	deliverer := &countingDeliverer{outcome: syncqueue.OutcomeSynced}
	conn := connectivity.NewManual(online)
	persister := newMemPersister()

	qcfg := syncqueue.DefaultConfig()
	qcfg.SyncedGrace = time.Hour // keep synced items visible for assertions
	queue := syncqueue.New(qcfg, deliverer, conn, persister, nil)

	source := location.NewManualSource()
	loop := New(
		Config{Target: testTarget, DrainInterval: 10 * time.Millisecond},
		spoof.NewDetector(spoof.DefaultConfig()),
		queue, source, conn, persister, nil, nil,
	)

	return &fixture{
		loop:      loop,
		source:    source,
		conn:      conn,
		queue:     queue,
		deliverer: deliverer,
		persister: persister,
	}
}

func sampleAt(lat, lng float64, tsMs int64) location.Sample {
	return location.Sample{
		Coordinate:  geo.Coordinate{Latitude: lat, Longitude: lng},
		TimestampMs: tsMs,
	}
}

// =============================================================================
// Sample handling
// =============================================================================

func TestInitialStateHasInfiniteDistance(t *testing.T) {
	f := newFixture(t, true)

	state := f.loop.State()
	assert.True(t, math.IsInf(state.Geofence.DistanceMeters, 1))
	assert.False(t, state.Geofence.WithinFence)
	assert.Nil(t, state.LastSample)
}

func TestHandleSampleInsideFence(t *testing.T) {
	f := newFixture(t, true)

	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))

	state := f.loop.State()
	require.NotNil(t, state.LastSample)
	assert.True(t, state.Geofence.WithinFence)
	assert.InDelta(t, 0, state.Geofence.DistanceMeters, 0.001)
}

func TestHandleSampleOutsideFence(t *testing.T) {
	f := newFixture(t, true)

	// Roughly 1.1 km north of the target.
	f.loop.HandleSample(sampleAt(8.649, -83.162, 1000))

	state := f.loop.State()
	assert.False(t, state.Geofence.WithinFence)
	assert.Greater(t, state.Geofence.DistanceMeters, 1000.0)
	assert.Less(t, state.Geofence.DistanceMeters, 1300.0)
}

func TestHandleSampleCarriesVerdict(t *testing.T) {
	f := newFixture(t, true)

	mocked := sampleAt(8.639, -83.162, 1000)
	mocked.SystemReportedMock = true
	f.loop.HandleSample(mocked)

	state := f.loop.State()
	assert.True(t, state.Verdict.IsMocked)
	assert.Equal(t, spoof.ConfidenceHigh, state.Verdict.Confidence)
}

func TestHandleSampleClearsLastError(t *testing.T) {
	f := newFixture(t, true)

	f.loop.HandleSourceError(errors.New("location permission revoked"))
	assert.Equal(t, "location permission revoked", f.loop.State().LastError)

	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))
	assert.Empty(t, f.loop.State().LastError)
}

func TestStateSurvivesReload(t *testing.T) {
	f := newFixture(t, true)
	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))

	restored := New(
		Config{Target: testTarget},
		spoof.NewDetector(spoof.DefaultConfig()),
		f.queue, f.source, f.conn, f.persister, nil, nil,
	)
	require.NoError(t, restored.Load())

	state := restored.State()
	require.NotNil(t, state.LastSample)
	assert.True(t, state.Geofence.WithinFence)
	assert.Equal(t, 8.639, state.LastSample.Coordinate.Latitude)
}

// =============================================================================
// Capture
// =============================================================================

func TestCaptureWithoutFixFails(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.loop.Capture(context.Background(), []byte("jpeg"))
	require.ErrorIs(t, err, location.ErrUnavailable)
}

func TestCaptureSubmitsToQueue(t *testing.T) {
	f := newFixture(t, false)
	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))

	artifact, err := f.loop.Capture(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.NotEmpty(t, artifact.ID)

	item, ok := f.queue.Get(artifact.ID)
	require.True(t, ok)
	assert.Equal(t, syncqueue.StatusPending, item.Status)

	assert.Equal(t, "true", artifact.Metadata["within_fence"])
	assert.Equal(t, testTarget.Name, artifact.Metadata["target"])
}

func TestCapturePersistsPayload(t *testing.T) {
	f := newFixture(t, false)
	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))

	artifact, err := f.loop.Capture(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)

	payload, err := f.loop.Payload(artifact.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), payload)
}

type stampingWatermarker struct{ calls int }

func (w *stampingWatermarker) Apply(payload []byte, data WatermarkData) ([]byte, error) {
	w.calls++
	return append(payload, []byte(" @ "+data.Address)...), nil
}

func TestCaptureAppliesWatermark(t *testing.T) {
	f := newFixture(t, false)
	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))

	wm := &stampingWatermarker{}
	f.loop.watermarker = wm

	artifact, err := f.loop.Capture(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.Equal(t, 1, wm.calls)

	payload, err := f.loop.Payload(artifact.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, "jpeg @ "+testTarget.Address, string(payload))
}

type failingWatermarker struct{}

func (failingWatermarker) Apply(payload []byte, data WatermarkData) ([]byte, error) {
	return nil, errors.New("compositor unavailable")
}

func TestCaptureSurfacesWatermarkFailure(t *testing.T) {
	f := newFixture(t, false)
	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))
	f.loop.watermarker = failingWatermarker{}

	_, err := f.loop.Capture(context.Background(), []byte("jpeg"))
	require.Error(t, err)
	assert.Empty(t, f.queue.Items(), "a failed capture must not enqueue anything")
}

func TestCaptureDrainsWhenOnline(t *testing.T) {
	f := newFixture(t, true)
	f.loop.HandleSample(sampleAt(8.639, -83.162, 1000))

	artifact, err := f.loop.Capture(context.Background(), []byte("jpeg"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		item, ok := f.queue.Get(artifact.ID)
		return ok && item.Status == syncqueue.StatusSynced
	}, time.Second, 5*time.Millisecond)
}

// =============================================================================
// End to end: offline capture, online reconciliation
// =============================================================================

func TestOfflineCaptureSyncsOnReconnect(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- f.loop.Run(ctx) }()

	// A fix arrives through the subscription. Emit until the loop has
	// observably registered it.
	require.Eventually(t, func() bool {
		f.source.Emit(sampleAt(8.639, -83.162, 1000))
		return f.loop.State().LastSample != nil
	}, time.Second, time.Millisecond)

	// Captured offline: queued, zero delivery attempts.
	artifact, err := f.loop.Capture(ctx, []byte("jpeg"))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond) // let the periodic trigger fire a few times
	assert.Equal(t, 0, f.deliverer.attemptCount(), "offline drain must not attempt delivery")
	item, _ := f.queue.Get(artifact.ID)
	assert.Equal(t, syncqueue.StatusPending, item.Status)

	// Connectivity returns: the transition triggers an immediate drain.
	f.conn.SetOnline(true)

	require.Eventually(t, func() bool {
		item, ok := f.queue.Get(artifact.ID)
		return ok && item.Status == syncqueue.StatusSynced
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.deliverer.attemptCount())

	cancel()
	require.ErrorIs(t, <-runDone, context.Canceled)
}

func TestRunSurfacesSourceErrors(t *testing.T) {
	f := newFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.loop.Run(ctx)

	// Subscription may not be registered yet; emit until observed.
	require.Eventually(t, func() bool {
		f.source.EmitError(errors.New("gps disabled"))
		return f.loop.State().LastError == "gps disabled"
	}, time.Second, time.Millisecond)
}
