package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"songstream/catalogservice/internal/domain"
	"songstream/catalogservice/internal/metrics"
)

const (
	sourceFailureThreshold = 3
	sourceBlockBase        = 1 * time.Minute
	sourceBlockMax         = 10 * time.Minute

	// Upstream politeness: cap outbound calls per source.
	sourceRateLimit = rate.Limit(8)
	sourceRateBurst = 16
)

type sourceHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastLatency         time.Duration
	totalRequests       int64
	totalFailures       int64
	limiter             *rate.Limiter
}

func (s *Service) sourceState(name string) *sourceHealth {
	state := s.health[name]
	if state == nil {
		state = &sourceHealth{limiter: rate.NewLimiter(sourceRateLimit, sourceRateBurst)}
		s.health[name] = state
	}
	return state
}

func (s *Service) isSourceBlocked(sourceName string, now time.Time) (bool, string) {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	if name == "" {
		return false, ""
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[name]
	if state == nil || state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, ""
	}
	return true, state.lastError
}

// waitSourceRateLimit blocks until the per-source token bucket admits one
// more outbound call or the context ends.
func (s *Service) waitSourceRateLimit(ctx context.Context, sourceName string) error {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	if name == "" {
		return nil
	}
	s.healthMu.Lock()
	limiter := s.sourceState(name).limiter
	s.healthMu.Unlock()
	return limiter.Wait(ctx)
}

func (s *Service) recordSourceResult(sourceName string, err error, latency time.Duration, now time.Time) {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	if name == "" {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.sourceState(name)
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
		metrics.SourceRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		metrics.SourceRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.SourceAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastError = err.Error()

	status := "error"
	if isTimeoutLikeError(err) {
		status = "timeout"
	}
	metrics.SourceRequestsTotal.WithLabelValues(name, status).Inc()

	if state.consecutiveFailures >= sourceFailureThreshold {
		state.blockedUntil = now.Add(blockDuration(state.consecutiveFailures))
		metrics.SourceAvailable.WithLabelValues(name).Set(0)
	}
}

// blockDuration doubles the block per failure past the threshold, capped.
func blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - sourceFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := sourceBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > sourceBlockMax {
			return sourceBlockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

func (s *Service) SourceDiagnostics() []domain.SourceDiagnostics {
	infos := s.Sources()
	if len(infos) == 0 {
		return nil
	}

	now := time.Now()
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.SourceDiagnostics, 0, len(infos))
	for _, info := range infos {
		name := strings.ToLower(strings.TrimSpace(info.Name))
		item := domain.SourceDiagnostics{
			Name:    info.Name,
			Label:   info.Label,
			Kind:    info.Kind,
			Enabled: info.Enabled,
		}
		if state := s.health[name]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			item.Blocked = !state.blockedUntil.IsZero() && now.Before(state.blockedUntil)
			item.LastError = state.lastError
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items
}
