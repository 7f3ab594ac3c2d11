package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/storage"
)

// BreakerReporter is anything that reports a circuit breaker state.
type BreakerReporter interface {
	Name() string
	State() string
}

type HealthService struct {
	logger   *logrus.Logger
	store    storage.Store
	breakers []BreakerReporter
	timeout  time.Duration

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

func NewHealthService(logger *logrus.Logger, store storage.Store, breakers ...BreakerReporter) *HealthService {
	hs := &HealthService{
		logger:   logger,
		store:    store,
		breakers: breakers,
		timeout:  5 * time.Second,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shopsense_health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shopsense_health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	// ignore if already registered
	hs.healthCheckStatus = registerGaugeVec(logger, hs.healthCheckStatus)
	hs.lastHealthCheck = registerGaugeVec(logger, hs.lastHealthCheck)

	return hs
}

func registerGaugeVec(logger *logrus.Logger, g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := prometheus.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
			return g
		}
		logger.WithError(err).Warn("Failed to register health metric")
	}
	return g
}

// CheckHealth treats the durable store as critical. An open remote breaker
// only degrades the service, since every operation has a local fallback.
func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check critical services
	allCriticalHealthy := true
	if err := s.checkStore(ctx); err != nil {
		status.Services["storage"] = "unhealthy"
		status.Critical = append(status.Critical, "storage")
		allCriticalHealthy = false
		s.logger.WithError(err).Error("Critical service storage is unhealthy")
		s.UpdateHealthMetrics("storage", false)
	} else {
		status.Services["storage"] = "healthy"
		s.UpdateHealthMetrics("storage", true)
	}

	// Check non-critical services
	for _, b := range s.breakers {
		name := "remote_" + b.Name()
		if err := checkBreaker(b); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	// Determine overall status
	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

func (s *HealthService) checkStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.Ping(ctx)
}

func checkBreaker(b BreakerReporter) error {
	if state := b.State(); state == "open" {
		return fmt.Errorf("circuit breaker %s is %s", b.Name(), state)
	}
	return nil
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
