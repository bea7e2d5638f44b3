// Package pinger keeps the hosting platform awake by polling a URL.
package pinger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/digkill/IMEICheckBot/internal/metrics"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

const requestTimeout = 10 * time.Second

var ErrNoURL = errors.New("autopinger url is not configured")

type Status struct {
	Running    bool          `json:"running"`
	URL        string        `json:"url"`
	Interval   time.Duration `json:"interval"`
	PingCount  int           `json:"ping_count"`
	ErrorCount int           `json:"error_count"`
	LastPing   time.Time     `json:"last_ping"`
	LastError  string        `json:"last_error,omitempty"`
}

// Pinger is driven by the job scheduler. Tick is a no-op while it is stopped.
type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	running    bool
	pingCount  int
	errorCount int
	lastPing   time.Time
	lastError  string
}

func New(url string, interval time.Duration, log *slog.Logger) *Pinger {
	if log == nil {
		log = logger.Discard()
	}
	return &Pinger{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: requestTimeout},
		log:      log,
		now:      time.Now,
	}
}

// Start enables pinging. It reports false when already running.
func (p *Pinger) Start() (bool, error) {
	if p.url == "" {
		return false, ErrNoURL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false, nil
	}
	p.running = true
	p.log.Info("autopinger started", "url", p.url, "interval", p.interval)
	return true, nil
}

// Stop disables pinging. It reports false when already stopped.
func (p *Pinger) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.running = false
	p.log.Info("autopinger stopped")
	return true
}

func (p *Pinger) Tick(ctx context.Context) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	if err := p.Ping(ctx); err != nil {
		p.log.Warn("ping failed", "url", p.url, "err", err)
	}
}

func (p *Pinger) Ping(ctx context.Context) error {
	if p.url == "" {
		return ErrNoURL
	}
	err := p.do(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPing = p.now()
	if err != nil {
		p.errorCount++
		p.lastError = err.Error()
		metrics.Pings.WithLabelValues("error").Inc()
		return err
	}
	p.pingCount++
	p.lastError = ""
	metrics.Pings.WithLabelValues("ok").Inc()
	return nil
}

func (p *Pinger) do(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping returned status %d", resp.StatusCode)
	}
	p.log.Debug("ping successful", "status", resp.StatusCode)
	return nil
}

func (p *Pinger) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Running:    p.running,
		URL:        p.url,
		Interval:   p.interval,
		PingCount:  p.pingCount,
		ErrorCount: p.errorCount,
		LastPing:   p.lastPing,
		LastError:  p.lastError,
	}
}
