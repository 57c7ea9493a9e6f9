// checkind - Geofenced field check-ins with spoof detection and offline sync
//
//	checkind init            Initialize configuration and data directory
//	checkind run             Run the check-in daemon
//	checkind checkin         Capture a check-in at the current position
//	checkind status          Show geofence state and queue summary
//	checkind queue           List sync queue items
//	checkind resubmit <id>   Return a failed item to the queue
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"checkind/internal/checkin"
	"checkind/internal/config"
	"checkind/internal/connectivity"
	"checkind/internal/delivery"
	"checkind/internal/geo"
	"checkind/internal/health"
	"checkind/internal/location"
	"checkind/internal/logging"
	"checkind/internal/metrics"
	"checkind/internal/spoof"
	"checkind/internal/store"
	"checkind/internal/syncqueue"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "checkin":
		cmdCheckin()
	case "status":
		cmdStatus()
	case "queue":
		cmdQueue()
	case "resubmit":
		cmdResubmit()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`checkind - Geofenced Field Check-ins

USAGE:
    checkind <command> [options]

COMMANDS:
    init             Initialize configuration and data directory
    run              Run the check-in daemon
    checkin          Capture a check-in at the current position
    status           Show geofence state and queue summary
    queue            List sync queue items
    resubmit <id>    Return a failed item to the queue
    help             Show this help message

BASIC WORKFLOW:
    1. checkind init                        # One-time setup
    2. (edit the config: target, endpoint)
    3. checkind run                         # Daemon: samples, verdicts, sync
    4. checkind checkin -payload photo.jpg  # Capture a check-in
    5. checkind status                      # Watch it reach the server

Check-ins captured offline are queued durably and delivered with
exponential backoff once connectivity returns. Spoofed GPS (mock
location flag, impossible movement speed) is flagged on every sample.`)
}

// app bundles the wired component graph.
type app struct {
	cfg    *config.Config
	store  *store.Store
	queue  *syncqueue.Queue
	loop   *checkin.Loop
	conn   connectivity.Checker
	source location.Source
	log    *logging.Logger
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// offlineChecker pins the queue offline when no endpoint is configured,
// so captured items wait as pending instead of burning retries.
type offlineChecker struct{}

func (offlineChecker) IsOnline(ctx context.Context) bool { return false }

func (offlineChecker) OnChange(callback func(bool)) (func(), error) {
	return func() {}, nil
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "checkind",
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.SetDefault(log)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	conn := buildConnectivity(cfg, log)
	source := buildLocationSource(cfg, log)

	var deliverer syncqueue.Deliverer
	queueConn := syncqueue.ConnectivityChecker(conn)
	if cfg.Delivery.Endpoint != "" {
		deliverer, err = delivery.NewHTTP(
			cfg.Delivery.Endpoint,
			time.Duration(cfg.Delivery.TimeoutSec)*time.Second,
			log.WithComponent("delivery"),
		)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init delivery: %w", err)
		}
	} else {
		log.Warn("no delivery endpoint configured, check-ins will queue locally")
		deliverer = delivery.Unavailable{}
		queueConn = offlineChecker{}
	}
	deliverer = meterDeliverer(deliverer)

	queue := syncqueue.New(syncqueue.Config{
		MaxRetries:     cfg.Sync.MaxRetries,
		BaseRetryDelay: time.Duration(cfg.Sync.BaseRetryDelayMs) * time.Millisecond,
		SyncedGrace:    time.Duration(cfg.Sync.SyncedGraceMs) * time.Millisecond,
	}, deliverer, queueConn, st, log.WithComponent("syncqueue"))

	detector := spoof.NewDetector(spoof.Config{
		ImpossibleSpeedMPS: cfg.Spoof.ImpossibleSpeedMps,
		HistoryCapacity:    cfg.Spoof.HistoryCapacity,
	})

	loop := checkin.New(checkin.Config{
		Target: checkin.Target{
			Name:    cfg.Target.Name,
			Address: cfg.Target.Address,
			Coordinate: geo.Coordinate{
				Latitude:  cfg.Target.Latitude,
				Longitude: cfg.Target.Longitude,
			},
			RadiusMeters: cfg.Target.RadiusMeters,
		},
		DrainInterval: time.Duration(cfg.Sync.DrainIntervalMs) * time.Millisecond,
	}, detector, queue, source, conn, st, nil, log.WithComponent("checkin"))

	if err := queue.Load(); err != nil {
		st.Close()
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if err := loop.Load(); err != nil {
		st.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	return &app{cfg: cfg, store: st, queue: queue, loop: loop, conn: conn, source: source, log: log}, nil
}

func buildConnectivity(cfg *config.Config, log *logging.Logger) connectivity.Checker {
	switch cfg.Connectivity.Source {
	case "networkmanager":
		nm, err := connectivity.NewNetworkManager()
		if err == nil {
			return nm
		}
		log.Warn("NetworkManager unavailable, falling back to probe", "error", err)
		fallthrough
	case "probe":
		return connectivity.NewProber(cfg.Connectivity.ProbeAddress,
			time.Duration(cfg.Connectivity.ProbeIntervalSec)*time.Second)
	default:
		return connectivity.NewManual(true)
	}
}

func buildLocationSource(cfg *config.Config, log *logging.Logger) location.Source {
	if cfg.Location.ScriptPath != "" {
		samples, err := location.LoadScript(cfg.Location.ScriptPath)
		if err != nil {
			log.Error("load location script", "error", err)
			return location.NewManualSource()
		}
		return location.NewReplaySource(samples,
			time.Duration(cfg.Location.UpdateIntervalMs)*time.Millisecond)
	}
	log.Warn("no location script configured, waiting for manual samples")
	return location.NewManualSource()
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	fs.Parse(os.Args[2:])

	cfg, created, err := config.LoadOrCreate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	if created {
		fmt.Printf("Wrote default configuration to %s\n", path)
	} else {
		fmt.Printf("Configuration already exists at %s\n", path)
	}
	fmt.Println()
	fmt.Println("checkind initialized!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the [target] section with your destination coordinates")
	fmt.Println("  2. Set delivery.endpoint to your submission URL")
	fmt.Println("  3. Run 'checkind run' to start the daemon")
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	fs.Parse(os.Args[2:])

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		a.log.Info("shutting down")
		cancel()
	}()

	if prober, ok := a.conn.(*connectivity.Prober); ok {
		go prober.Run(ctx)
	}
	if replay, ok := a.source.(*location.ReplaySource); ok {
		go replay.Run(ctx)
	}

	if a.cfg.Health.Enabled {
		checker := buildHealthChecker(a)
		registerGauges(a)

		mux := http.NewServeMux()
		mux.Handle("/", checker.Handler())
		mux.Handle("/metrics", metrics.Default().HTTPHandler())
		go func() {
			if err := health.Serve(ctx, a.cfg.Health.ListenAddr, mux); err != nil {
				a.log.Error("health endpoint stopped", "error", err)
			}
		}()
	}

	if err := a.loop.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// meteredDeliverer counts delivery attempts by outcome.
type meteredDeliverer struct {
	next         syncqueue.Deliverer
	attempts     *metrics.Counter
	synced       *metrics.Counter
	rejected     *metrics.Counter
	inconclusive *metrics.Counter
}

func meterDeliverer(next syncqueue.Deliverer) syncqueue.Deliverer {
	reg := metrics.Default()
	return &meteredDeliverer{
		next:         next,
		attempts:     reg.RegisterCounter("delivery_attempts_total", "Delivery attempts.", nil),
		synced:       reg.RegisterCounter("delivery_synced_total", "Deliveries accepted by the endpoint.", nil),
		rejected:     reg.RegisterCounter("delivery_rejected_total", "Deliveries rejected by the endpoint.", nil),
		inconclusive: reg.RegisterCounter("delivery_inconclusive_total", "Deliveries that will be retried.", nil),
	}
}

func (m *meteredDeliverer) Deliver(ctx context.Context, artifact syncqueue.Artifact) (syncqueue.Outcome, error) {
	m.attempts.Inc()
	outcome, err := m.next.Deliver(ctx, artifact)
	switch outcome {
	case syncqueue.OutcomeSynced:
		m.synced.Inc()
	case syncqueue.OutcomeFailed:
		m.rejected.Inc()
	default:
		m.inconclusive.Inc()
	}
	return outcome, err
}

// registerGauges surfaces live daemon state to the scrape endpoint.
func registerGauges(a *app) {
	reg := metrics.Default()
	reg.RegisterGaugeFunc("pending_items", "Queue items not yet synced.", nil, func() float64 {
		return float64(a.queue.PendingCount())
	})
	reg.RegisterGaugeFunc("online", "Connectivity state (1 online, 0 offline).", nil, func() float64 {
		if a.conn.IsOnline(context.Background()) {
			return 1
		}
		return 0
	})
	reg.RegisterGaugeFunc("within_fence", "Whether the last fix is inside the geofence.", nil, func() float64 {
		if a.loop.State().Geofence.WithinFence {
			return 1
		}
		return 0
	})
	reg.RegisterGaugeFunc("distance_meters", "Distance from the target.", nil, func() float64 {
		return a.loop.State().Geofence.DistanceMeters
	})
}

func buildHealthChecker(a *app) *health.Checker {
	checker := health.NewChecker()
	checker.RegisterFunc("store", true, health.StoreCheck(func(ctx context.Context) error {
		return a.store.Ping()
	}))
	checker.RegisterFunc("queue", false, health.QueueCheck(a.queue.PendingCount, 100))
	checker.RegisterFunc("location", false, health.LocationCheck(func() (int64, bool) {
		state := a.loop.State()
		if state.LastSample == nil {
			return 0, false
		}
		return state.LastSample.TimestampMs, true
	}, 2*time.Minute))
	checker.RegisterFunc("connectivity", false, health.ConnectivityCheck(a.conn.IsOnline))
	checker.SetReady(true)
	return checker
}

func cmdCheckin() {
	fs := flag.NewFlagSet("checkin", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	payloadPath := fs.String("payload", "", "Payload file (captured photo)")
	lat := fs.Float64("lat", 0, "Current latitude (overrides stored fix)")
	lng := fs.Float64("lng", 0, "Current longitude (overrides stored fix)")
	fs.Parse(os.Args[2:])

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	var payload []byte
	if *payloadPath != "" {
		payload, err = os.ReadFile(*payloadPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading payload: %v\n", err)
			os.Exit(1)
		}
	}

	if *lat != 0 || *lng != 0 {
		a.loop.HandleSample(location.Sample{
			Coordinate:  geo.Coordinate{Latitude: *lat, Longitude: *lng},
			TimestampMs: time.Now().UnixMilli(),
		})
	}

	ctx := context.Background()
	artifact, err := a.loop.Capture(ctx, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error capturing check-in: %v\n", err)
		os.Exit(1)
	}

	state := a.loop.State()
	fmt.Printf("Check-in captured: %s\n", artifact.ID)
	fmt.Printf("  Within fence: %t (%.0f m from %s)\n",
		state.Geofence.WithinFence, state.Geofence.DistanceMeters, a.cfg.Target.Name)
	if state.Verdict.IsMocked {
		fmt.Printf("  WARNING: location flagged as spoofed (%s): %s\n",
			state.Verdict.Confidence, state.Verdict.Reason)
	}

	// Give the opportunistic drain a moment before reporting status.
	a.queue.Drain(ctx)
	if item, ok := a.queue.Get(artifact.ID); ok {
		fmt.Printf("  Sync status: %s\n", item.Status)
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	fs.Parse(os.Args[2:])

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	fmt.Println("=== checkind Status ===")
	fmt.Println()
	fmt.Printf("Target: %s (%.6f, %.6f) radius %.0f m\n",
		a.cfg.Target.Name, a.cfg.Target.Latitude, a.cfg.Target.Longitude, a.cfg.Target.RadiusMeters)
	if a.cfg.Target.Address != "" {
		fmt.Printf("Address: %s\n", a.cfg.Target.Address)
	}
	fmt.Println()

	state := a.loop.State()
	if state.LastSample == nil {
		fmt.Println("Location: no fix yet")
	} else {
		fmt.Printf("Location: %.6f, %.6f (as of %s)\n",
			state.LastSample.Coordinate.Latitude,
			state.LastSample.Coordinate.Longitude,
			time.UnixMilli(state.LastSample.TimestampMs).Format(time.RFC3339))
		fmt.Printf("Geofence: within=%t distance=%.0f m bearing=%.0f deg\n",
			state.Geofence.WithinFence, state.Geofence.DistanceMeters, state.Geofence.BearingDegrees)
		fmt.Printf("Authenticity: mocked=%t confidence=%s\n",
			state.Verdict.IsMocked, state.Verdict.Confidence)
	}
	if state.LastError != "" {
		fmt.Printf("Last source error: %s\n", state.LastError)
	}
	fmt.Println()

	online := a.conn.IsOnline(context.Background())
	fmt.Printf("Connectivity: online=%t\n", online)
	fmt.Printf("Sync queue: %d item(s) not yet synced\n", a.queue.PendingCount())
}

func cmdQueue() {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	fs.Parse(os.Args[2:])

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	items := a.queue.Items()
	if len(items) == 0 {
		fmt.Println("Sync queue is empty.")
		return
	}

	fmt.Printf("%-36s  %-8s  %-7s  %s\n", "ID", "STATUS", "RETRIES", "SUBMITTED")
	for _, item := range items {
		fmt.Printf("%-36s  %-8s  %-7d  %s\n",
			item.ID, item.Status, item.RetryCount,
			time.UnixMilli(item.SubmittedAtMs).Format(time.RFC3339))
	}
}

func cmdResubmit() {
	fs := flag.NewFlagSet("resubmit", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: checkind resubmit <id>")
		os.Exit(1)
	}
	id := strings.TrimSpace(fs.Arg(0))

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.queue.Resubmit(id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Item %s returned to the queue.\n", id)
	a.queue.Drain(context.Background())
	if item, ok := a.queue.Get(id); ok {
		fmt.Printf("Sync status: %s\n", item.Status)
	}
}
