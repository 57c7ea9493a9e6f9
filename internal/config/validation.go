package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates all problems found in one pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "configuration invalid: " + strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateTarget(&c.Target)...)
	errs = append(errs, validateLocation(&c.Location)...)
	errs = append(errs, validateSpoof(&c.Spoof)...)
	errs = append(errs, validateSync(&c.Sync)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateDelivery(&c.Delivery)...)
	errs = append(errs, validateConnectivity(&c.Connectivity)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig) ValidationErrors {
	var errs ValidationErrors

	if t.Latitude < -90 || t.Latitude > 90 {
		errs = append(errs, &ValidationError{
			Field:   "target.latitude",
			Message: fmt.Sprintf("must be in [-90, 90], got %g", t.Latitude),
		})
	}
	if t.Longitude < -180 || t.Longitude > 180 {
		errs = append(errs, &ValidationError{
			Field:   "target.longitude",
			Message: fmt.Sprintf("must be in [-180, 180], got %g", t.Longitude),
		})
	}
	if t.RadiusMeters <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "target.radius_meters",
			Message: "must be positive",
		})
	}

	return errs
}

func validateLocation(l *LocationConfig) ValidationErrors {
	var errs ValidationErrors

	if l.UpdateIntervalMs <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "location.update_interval_ms",
			Message: "must be positive",
		})
	}
	if l.DistanceFilterMeters < 0 {
		errs = append(errs, &ValidationError{
			Field:   "location.distance_filter_meters",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateSpoof(s *SpoofConfig) ValidationErrors {
	var errs ValidationErrors

	if s.ImpossibleSpeedMps <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "spoof.impossible_speed_mps",
			Message: "must be positive",
		})
	}
	if s.HistoryCapacity <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "spoof.history_capacity",
			Message: "must be positive",
		})
	}

	return errs
}

func validateSync(s *SyncConfig) ValidationErrors {
	var errs ValidationErrors

	if s.MaxRetries <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "sync.max_retries",
			Message: "must be positive",
		})
	}
	if s.BaseRetryDelayMs <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "sync.base_retry_delay_ms",
			Message: "must be positive",
		})
	}
	if s.DrainIntervalMs <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "sync.drain_interval_ms",
			Message: "must be positive",
		})
	}
	if s.SyncedGraceMs < 0 {
		errs = append(errs, &ValidationError{
			Field:   "sync.synced_grace_ms",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "storage.path",
			Message: "is required",
		})
	}

	return errs
}

func validateDelivery(d *DeliveryConfig) ValidationErrors {
	var errs ValidationErrors

	// An empty endpoint is allowed: the daemon can run offline-only and
	// queue everything.
	if d.Endpoint != "" {
		u, err := url.Parse(d.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "delivery.endpoint",
				Message: fmt.Sprintf("must be an http(s) URL, got %q", d.Endpoint),
			})
		}
	}
	if d.TimeoutSec <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "delivery.timeout_sec",
			Message: "must be positive",
		})
	}

	return errs
}

func validateConnectivity(c *ConnectivityConfig) ValidationErrors {
	var errs ValidationErrors

	switch c.Source {
	case "networkmanager", "probe", "manual":
	default:
		errs = append(errs, &ValidationError{
			Field:   "connectivity.source",
			Message: fmt.Sprintf("must be one of networkmanager, probe, manual; got %q", c.Source),
		})
	}
	if c.Source == "probe" {
		if c.ProbeAddress == "" {
			errs = append(errs, &ValidationError{
				Field:   "connectivity.probe_address",
				Message: "is required for the probe source",
			})
		}
		if c.ProbeIntervalSec <= 0 {
			errs = append(errs, &ValidationError{
				Field:   "connectivity.probe_interval_sec",
				Message: "must be positive",
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error; got %q", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be text or json; got %q", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("must be one of stdout, stderr, file, both; got %q", l.Output),
		})
	}
	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "logging.file_path",
			Message: "is required for file output",
		})
	}

	return errs
}
