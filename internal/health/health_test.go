package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func healthyCheck(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy}
}

func unhealthyCheck(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusUnhealthy}
}

func TestOverallStatusAllHealthy(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, healthyCheck)
	c.RegisterFunc("queue", false, healthyCheck)

	c.Check(context.Background())

	if got := c.OverallStatus(); got != StatusHealthy {
		t.Errorf("expected healthy, got %s", got)
	}
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, unhealthyCheck)
	c.RegisterFunc("queue", false, healthyCheck)

	c.Check(context.Background())

	if got := c.OverallStatus(); got != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", got)
	}
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, healthyCheck)
	c.RegisterFunc("connectivity", false, unhealthyCheck)

	c.Check(context.Background())

	if got := c.OverallStatus(); got != StatusDegraded {
		t.Errorf("expected degraded, got %s", got)
	}
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	if results["slow"].Status != StatusUnhealthy {
		t.Errorf("timed-out check should be unhealthy, got %s", results["slow"].Status)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Errorf("not-ready checker should return 503, got %d", rec.Code)
	}

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("ready checker should return 200, got %d", rec.Code)
	}
}

func TestStoreCheck(t *testing.T) {
	ok := StoreCheck(func(ctx context.Context) error { return nil })
	if got := ok(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected healthy, got %s", got)
	}

	broken := StoreCheck(func(ctx context.Context) error { return errors.New("locked") })
	if got := broken(context.Background()).Status; got != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", got)
	}
}

func TestQueueCheckBacklog(t *testing.T) {
	small := QueueCheck(func() int { return 2 }, 50)
	if got := small(context.Background()).Status; got != StatusHealthy {
		t.Errorf("small backlog should be healthy, got %s", got)
	}

	large := QueueCheck(func() int { return 80 }, 50)
	if got := large(context.Background()).Status; got != StatusDegraded {
		t.Errorf("large backlog should degrade, got %s", got)
	}
}

func TestLocationCheckFreshness(t *testing.T) {
	none := LocationCheck(func() (int64, bool) { return 0, false }, time.Minute)
	if got := none(context.Background()).Status; got != StatusDegraded {
		t.Errorf("missing fix should degrade, got %s", got)
	}

	fresh := LocationCheck(func() (int64, bool) {
		return time.Now().UnixMilli(), true
	}, time.Minute)
	if got := fresh(context.Background()).Status; got != StatusHealthy {
		t.Errorf("fresh fix should be healthy, got %s", got)
	}

	stale := LocationCheck(func() (int64, bool) {
		return time.Now().Add(-time.Hour).UnixMilli(), true
	}, time.Minute)
	if got := stale(context.Background()).Status; got != StatusDegraded {
		t.Errorf("stale fix should degrade, got %s", got)
	}
}

func TestConnectivityCheckOfflineDegrades(t *testing.T) {
	offline := ConnectivityCheck(func(ctx context.Context) bool { return false })
	if got := offline(context.Background()).Status; got != StatusDegraded {
		t.Errorf("offline should degrade, got %s", got)
	}
}
