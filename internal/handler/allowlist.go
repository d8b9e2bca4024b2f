package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/carticy-dev/agentic-checkout/pkg/httpclient"
)

// Allowlist holds the CIDR ranges published by the agent platform from which
// protocol calls are accepted. The range set is refreshed by a background
// task, never synchronously with a request. With no ranges loaded the check
// fails open only in test mode and fails closed in production.
type Allowlist struct {
	url      string
	testMode bool
	client   *httpclient.Client
	logger   *slog.Logger

	mu     sync.RWMutex
	ranges []*net.IPNet
	loaded bool

	stop chan struct{}
	done chan struct{}
}

// NewAllowlist creates an allowlist refresher. An empty URL disables origin
// checking entirely.
func NewAllowlist(url string, testMode bool, logger *slog.Logger) *Allowlist {
	return &Allowlist{
		url:      url,
		testMode: testMode,
		client:   httpclient.New(httpclient.DefaultConfig()),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start refreshes immediately and then on the given interval until Stop.
func (a *Allowlist) Start(ctx context.Context, interval time.Duration) {
	if a.url == "" {
		close(a.done)
		return
	}
	if err := a.refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "allowlist refresh failed", slog.String("error", err.Error()))
	}
	go a.run(ctx, interval)
}

func (a *Allowlist) run(ctx context.Context, interval time.Duration) {
	defer close(a.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.refresh(ctx); err != nil {
				a.logger.WarnContext(ctx, "allowlist refresh failed", slog.String("error", err.Error()))
			}
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the refresh loop.
func (a *Allowlist) Stop() {
	if a.url == "" {
		return
	}
	close(a.stop)
	<-a.done
}

// refresh fetches the published range set. A fetch or parse failure keeps
// the previous ranges.
func (a *Allowlist) refresh(ctx context.Context) error {
	resp, err := a.client.Get(ctx, a.url)
	if err != nil {
		return fmt.Errorf("fetch allowlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("fetch allowlist: unexpected status %d", resp.StatusCode)
	}

	var cidrs []string
	if err := json.NewDecoder(resp.Body).Decode(&cidrs); err != nil {
		return fmt.Errorf("decode allowlist: %w", err)
	}

	ranges := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return fmt.Errorf("parse allowlist range %q: %w", c, err)
		}
		ranges = append(ranges, ipnet)
	}

	a.mu.Lock()
	a.ranges = ranges
	a.loaded = true
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "allowlist refreshed", slog.Int("ranges", len(ranges)))
	return nil
}

// Allows reports whether the origin IP may call the protocol surface.
func (a *Allowlist) Allows(ip net.IP) bool {
	if a.url == "" {
		return true
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.loaded || len(a.ranges) == 0 {
		return a.testMode
	}
	if ip == nil {
		return false
	}
	for _, r := range a.ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// setRanges replaces the range set directly, for tests.
func (a *Allowlist) setRanges(ranges []*net.IPNet) {
	a.mu.Lock()
	a.ranges = ranges
	a.loaded = true
	a.mu.Unlock()
}
