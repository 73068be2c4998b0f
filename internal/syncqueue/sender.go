package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/bgde/vocab-platform/pkg/resilience"
)

// HTTPSender posts payloads to the sync endpoint through a circuit breaker.
type HTTPSender struct {
	endpoint string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
}

func NewHTTPSender(endpoint string, timeout time.Duration, m *metrics.Metrics) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &HTTPSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  resilience.NewCircuitBreaker("sync", cfg),
	}
}

func (s *HTTPSender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding sync payload: %w", err)
	}
	return s.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building sync request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("posting to %s: %w", s.endpoint, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("sync endpoint returned HTTP %d", resp.StatusCode)
		}
		return nil
	})
}

// Probe reports whether the sync endpoint is reachable. Any HTTP response
// counts as reachable.
func (s *HTTPSender) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("building probe: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", s.endpoint, err)
	}
	resp.Body.Close()
	return nil
}

func (s *HTTPSender) BreakerState() resilience.State { return s.breaker.GetState() }
