// Package api exposes the balance and event services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emperorhan/treasury-sync/internal/balance"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
	"github.com/emperorhan/treasury-sync/internal/events"
	"github.com/emperorhan/treasury-sync/internal/metrics"
)

const (
	maxQueryBodyBytes = 4 << 20 // ABIs of large contracts run to a few hundred KB

	DefaultBalanceWait = 5 * time.Second
	DefaultHeartbeat   = 15 * time.Second

	streamBuffer = 8
)

// BalanceService is satisfied by *balance.Poller.
type BalanceService interface {
	Subscribe(key model.AccountKey, fn balance.Listener) func()
	ForceRefresh(key model.AccountKey)
	Get(key model.AccountKey) model.AccountCacheEntry
}

// EventService is satisfied by *events.HistoryFetcher.
type EventService interface {
	Query(ctx context.Context, q model.EventQuery) (events.Result, error)
	Watch(ctx context.Context, q model.EventQuery, fn func(events.Result)) error
}

type Server struct {
	balances    BalanceService
	events      EventService
	metrics     http.Handler
	limiter     *RateLimitMiddleware
	balanceWait time.Duration
	heartbeat   time.Duration
	checks      []healthCheck
	base        *slog.Logger
	logger      *slog.Logger
}

// ServerOption configures optional behaviour of the API server.
type ServerOption func(*Server)

// WithBalanceWait bounds how long a balance read waits for a cold account's
// first fetch before answering with whatever is cached.
func WithBalanceWait(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.balanceWait = d
		}
	}
}

// WithHeartbeat sets the keep-alive comment interval of balance streams.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

type healthCheck struct {
	name  string
	check func() error
}

// WithHealthCheck adds a named check to /healthz. Any failing check turns the
// response into a 503.
func WithHealthCheck(name string, check func() error) ServerOption {
	return func(s *Server) { s.checks = append(s.checks, healthCheck{name: name, check: check}) }
}

// WithRateLimiter enables per-client rate limiting.
func WithRateLimiter(rl *RateLimitMiddleware) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(balances BalanceService, evs EventService, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		balances:    balances,
		events:      evs,
		metrics:     promhttp.Handler(),
		balanceWait: DefaultBalanceWait,
		heartbeat:   DefaultHeartbeat,
		base:        logger,
		logger:      logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with logging and, when configured,
// rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/accounts/{account}/balances", s.handleBalances)
	mux.HandleFunc("GET /v1/accounts/{account}/balances/stream", s.handleBalanceStream)
	mux.HandleFunc("POST /v1/accounts/{account}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /v1/events/query", s.handleEventQuery)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Wrap(h)
	}
	return RequestLogMiddleware(s.base, h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// accountKey parses the {account} path value, writing a 400 when invalid.
func accountKey(w http.ResponseWriter, r *http.Request) (model.AccountKey, bool) {
	key, err := model.ParseAccountKey(r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

type balanceResponse struct {
	Account model.AccountKey `json:"account"`
	model.AccountCacheEntry
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	key, ok := accountKey(w, r)
	if !ok {
		return
	}

	ready := make(chan struct{}, 1)
	unsubscribe := s.balances.Subscribe(key, func(e model.AccountCacheEntry) {
		if e.HasData() && !e.LoadingTokenData {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	entry := s.balances.Get(key)
	if !entry.HasData() {
		timer := time.NewTimer(s.balanceWait)
		defer timer.Stop()
		select {
		case <-ready:
		case <-timer.C:
			s.logger.Debug("balance wait timed out", "account", key, "wait", s.balanceWait)
		case <-r.Context().Done():
			return
		}
		entry = s.balances.Get(key)
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: key, AccountCacheEntry: entry})
}

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	key, ok := accountKey(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := make(chan model.AccountCacheEntry, streamBuffer)
	unsubscribe := s.balances.Subscribe(key, func(e model.AccountCacheEntry) {
		// Listeners must not block the store; a slow client loses the
		// oldest buffered entry.
		for {
			select {
			case updates <- e:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	metrics.APIStreamsActive.Inc()
	defer metrics.APIStreamsActive.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if entry := s.balances.Get(key); entry.HasData() {
		if err := writeEvent(w, key, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("balance stream closed", "account", key)
			return
		case entry := <-updates:
			if err := writeEvent(w, key, entry); err != nil {
				s.logger.Debug("balance stream write failed", "account", key, "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, key model.AccountKey, entry model.AccountCacheEntry) error {
	return writeSSE(w, "balance", balanceResponse{Account: key, AccountCacheEntry: entry})
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	key, ok := accountKey(w, r)
	if !ok {
		return
	}
	s.balances.ForceRefresh(key)
	writeJSON(w, http.StatusAccepted, map[string]string{"account": key.String(), "status": "refreshing"})
}

type eventQueryResponse struct {
	Data      []model.DecodedEventRecord `json:"data"`
	IsLoading bool                       `json:"isLoading"`
	Error     string                     `json:"error,omitempty"`
}

func (s *Server) handleEventQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	var q model.EventQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if q.Watch {
		s.streamEvents(w, r, q)
		return
	}

	res, err := s.events.Query(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, q, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse(res))
}

func queryResponse(res events.Result) eventQueryResponse {
	resp := eventQueryResponse{Data: res.Data, IsLoading: res.IsLoading}
	if resp.Data == nil {
		resp.Data = []model.DecodedEventRecord{}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

func (s *Server) writeQueryError(w http.ResponseWriter, q model.EventQuery, err error) {
	switch {
	case errors.Is(err, events.ErrEventNotFound),
		errors.Is(err, events.ErrAmbiguousEvent),
		errors.Is(err, events.ErrCompose),
		errors.Is(err, events.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Warn("event query failed", "contract", q.ContractAddress, "event", q.EventName, "error", err)
		writeError(w, http.StatusInternalServerError, "event query failed")
	}
}

// streamEvents serves a watch query as Server-Sent Events, one "events"
// event per run, until the client goes away. Query errors found before the
// first run are answered as plain JSON errors.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, q model.EventQuery) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	results := make(chan events.Result)
	done := make(chan error, 1)
	go func() {
		done <- s.events.Watch(ctx, q, func(res events.Result) {
			select {
			case results <- res:
			case <-ctx.Done():
			}
		})
	}()
	finished := false
	defer func() {
		cancel()
		if !finished {
			<-done
		}
	}()

	var first events.Result
	select {
	case <-ctx.Done():
		return
	case err := <-done:
		finished = true
		if err != nil && !errors.Is(err, context.Canceled) {
			s.writeQueryError(w, q, err)
		}
		return
	case first = <-results:
	}

	metrics.APIStreamsActive.Inc()
	defer metrics.APIStreamsActive.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeSSE(w, "events", queryResponse(first)); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", "contract", q.ContractAddress, "event", q.EventName)
			return
		case err := <-done:
			finished = true
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("event watch stopped", "contract", q.ContractAddress, "event", q.EventName, "error", err)
			}
			return
		case res := <-results:
			if err := writeSSE(w, "events", queryResponse(res)); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for _, hc := range s.checks {
		if err := hc.check(); err != nil {
			resp.Checks[hc.name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.name] = "ok"
	}
	writeJSON(w, status, resp)
}
