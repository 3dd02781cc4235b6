// Package alert delivers operational notifications (node outages and
// recoveries) to Slack and generic webhooks.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/emperorhan/treasury-sync/internal/circuitbreaker"
	"github.com/emperorhan/treasury-sync/internal/metrics"
)

type Kind string

const (
	KindRPCUnavailable Kind = "RPC_UNAVAILABLE"
	KindRPCRecovered   Kind = "RPC_RECOVERED"
)

const (
	DefaultCooldown = 5 * time.Minute
	sendTimeout     = 10 * time.Second
)

type Alert struct {
	Kind    Kind
	Network string
	Title   string
	Message string
	Fields  map[string]string
}

// Channel delivers one alert. Name labels metrics and logs.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Dispatcher fans alerts out to every channel. Alerts of the same kind and
// network within the cooldown are dropped.
type Dispatcher struct {
	channels []Channel
	cooldown time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	wg       sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func WithCooldown(cooldown time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if cooldown > 0 {
			d.cooldown = cooldown
		}
	}
}

func NewDispatcher(logger *slog.Logger, channels []Channel, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		channels: channels,
		cooldown: DefaultCooldown,
		clock:    clock.New(),
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enabled reports whether any channel is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.channels) > 0
}

// Send delivers a to every channel and returns the first failure.
func (d *Dispatcher) Send(ctx context.Context, a Alert) error {
	if !d.admit(a) {
		return nil
	}
	var firstErr error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, a); err != nil {
			metrics.AlertsTotal.WithLabelValues(ch.Name(), string(a.Kind), "error").Inc()
			d.logger.Warn("alert send failed", "channel", ch.Name(), "kind", a.Kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertsTotal.WithLabelValues(ch.Name(), string(a.Kind), "sent").Inc()
	}
	return firstErr
}

// Notify is Send on its own goroutine and is safe to call under a lock.
func (d *Dispatcher) Notify(a Alert) {
	if !d.Enabled() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_ = d.Send(ctx, a)
	}()
}

// Wait blocks until every Notify has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) admit(a Alert) bool {
	key := string(a.Kind) + ":" + a.Network
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		d.logger.Debug("alert suppressed by cooldown", "key", key)
		for _, ch := range d.channels {
			metrics.AlertsTotal.WithLabelValues(ch.Name(), string(a.Kind), "suppressed").Inc()
		}
		return false
	}
	d.lastSent[key] = now
	return true
}

// BreakerAlert maps a circuit transition to an alert. Only opening and
// closing are reported; half-open probes are not.
func BreakerAlert(network, endpoint string, from, to circuitbreaker.State) (Alert, bool) {
	fields := map[string]string{"endpoint": endpoint, "from": from.String(), "to": to.String()}
	switch to {
	case circuitbreaker.StateOpen:
		return Alert{
			Kind:    KindRPCUnavailable,
			Network: network,
			Title:   "Starknet node unavailable",
			Message: "RPC calls are failing; balances and event history are serving cached data.",
			Fields:  fields,
		}, true
	case circuitbreaker.StateClosed:
		return Alert{
			Kind:    KindRPCRecovered,
			Network: network,
			Title:   "Starknet node recovered",
			Message: "RPC calls are succeeding again.",
			Fields:  fields,
		}, true
	}
	return Alert{}, false
}

func sortedFields(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Slack posts to an incoming-webhook URL.
type Slack struct {
	url    string
	client *http.Client
}

func NewSlack(url string) *Slack {
	return &Slack{url: url, client: &http.Client{Timeout: sendTimeout}}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, a Alert) error {
	emoji := ":warning:"
	if a.Kind == KindRPCRecovered {
		emoji = ":white_check_mark:"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s]* %s: %s\n%s", emoji, a.Kind, a.Network, a.Title, a.Message)
	for _, k := range sortedFields(a.Fields) {
		fmt.Fprintf(&b, "\n- *%s*: %s", k, a.Fields[k])
	}
	return postJSON(ctx, s.client, s.url, map[string]string{"text": b.String()})
}

// Webhook posts the alert as a flat JSON object.
type Webhook struct {
	url    string
	client *http.Client
	nowFn  func() time.Time
}

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: sendTimeout}, nowFn: time.Now}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, w.client, w.url, map[string]any{
		"kind":    string(a.Kind),
		"network": a.Network,
		"title":   a.Title,
		"message": a.Message,
		"fields":  a.Fields,
		"time":    w.nowFn().UTC().Format(time.RFC3339),
	})
}
