package shim

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/vsite/internal/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NetworkConfig configures the real network delegate.
type NetworkConfig struct {
	Timeout           time.Duration
	Retries           int
	RequestsPerSecond float64
	UserAgent         string
}

// DefaultNetworkConfig returns the defaults used by the CLI.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Timeout:   30 * time.Second,
		Retries:   3,
		UserAgent: "vsite/1.0",
	}
}

// Network is the Platform backed by a real HTTP client, with retries, rate
// limiting and a circuit breaker.
type Network struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *zap.Logger
	mu      sync.RWMutex
}

// NewNetwork creates the real network delegate.
func NewNetwork(cfg NetworkConfig, log *zap.Logger) *Network {
	if log == nil {
		log = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryLogger{log.Sugar()}

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	breaker := resilience.New("network", resilience.Settings{
		FailureThreshold: 10,
		Cooldown:         30 * time.Second,
		Probes:           2,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	n := &Network{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: breaker,
		log:     log,
	}
	n.SetRateLimit(cfg.RequestsPerSecond)
	return n
}

// SetRateLimit configures rate limiting; rps <= 0 disables it.
func (n *Network) SetRateLimit(rps float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if rps <= 0 {
		n.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	n.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BreakerState returns the state of the circuit breaker.
func (n *Network) BreakerState() resilience.State {
	return n.breaker.State()
}

// Fetch performs a real request.
func (n *Network) Fetch(ctx context.Context, req *Request) (*Response, error) {
	n.mu.RLock()
	limiter := n.limiter
	n.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var resp *resty.Response
	err := n.breaker.Do(func() error {
		r := n.resty.R().SetContext(ctx).SetHeaders(req.Headers)
		if len(req.Body) > 0 {
			r.SetBody(bytes.NewReader(req.Body))
		}
		var err error
		resp, err = r.Execute(method, req.URL)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("upstream status %d", resp.StatusCode())
		}
		return nil
	})
	if resp == nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	return &Response{
		URL:        req.URL,
		Status:     resp.StatusCode(),
		StatusText: http.StatusText(resp.StatusCode()),
		Headers:    headers,
		Body:       resp.Body(),
	}, nil
}

// retryLogger adapts zap to retryablehttp's leveled logger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
