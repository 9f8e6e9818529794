// Package server exposes the audit chain over an HTTP/JSON API:
// append, query, live tail, verification, export and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/trustlog/internal/config"
	"github.com/ppiankov/trustlog/internal/export"
	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/query"
	"github.com/ppiankov/trustlog/internal/store"
	"github.com/ppiankov/trustlog/internal/stream"
)

// ActorHeader carries the acting principal when the append body leaves
// actor_id empty. Missing both falls back to the anonymous actor.
const ActorHeader = "X-Trustlog-Actor"

// Server wires the chain components behind an HTTP mux.
type Server struct {
	cfg      *config.Config
	store    store.Store
	appender *ledger.Appender
	verifier *ledger.Verifier
	engine   *query.Engine
	broker   *stream.Broker

	mu          sync.Mutex
	relayCancel context.CancelFunc
	relayDone   chan struct{}

	httpServer *http.Server
}

// New opens the configured store and assembles the full pipeline:
// appends publish to the broker, the broker fans out to HTTP tails and
// the optional Kafka relay.
func New(cfg *config.Config) (*Server, error) {
	st, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}

	broker := stream.NewBroker(cfg.Stream.Buffer)
	s := &Server{
		cfg:      cfg,
		store:    st,
		appender: ledger.NewAppender(st, broker),
		verifier: ledger.NewVerifier(st),
		engine:   query.NewEngine(st),
		broker:   broker,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.startRelay(cfg.Stream.Kafka)
	return s, nil
}

// Handler returns the HTTP routing table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/entries", s.handleEntries)
	mux.HandleFunc("/v1/entries/stream", s.handleStream)
	mux.HandleFunc("/v1/verify", s.handleVerify)
	mux.HandleFunc("/v1/export", s.handleExport)
	mux.HandleFunc("/v1/healthz", s.handleHealthz)
	return mux
}

// Appender returns the server's appender, shared with the spool so all
// ingestion paths go through one commit lock.
func (s *Server) Appender() *ledger.Appender { return s.appender }

// Serve listens on the configured address. Blocks until Shutdown.
func (s *Server) Serve() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeOn serves on an existing listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	err := s.httpServer.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, disconnects subscribers and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stopRelay()
	s.broker.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// startRelay launches the Kafka relay if brokers are configured.
// Caller holds no locks.
func (s *Server) startRelay(kc config.KafkaConfig) {
	if len(kc.Brokers) == 0 {
		return
	}
	relay := stream.NewKafkaRelay(kc.Brokers, kc.Topic)
	sub := s.broker.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.relayCancel = cancel
	s.relayDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := relay.Run(ctx, sub); err != nil {
			logf("kafka relay stopped: %v", err)
		}
	}()
}

func (s *Server) stopRelay() {
	s.mu.Lock()
	cancel, done := s.relayCancel, s.relayDone
	s.relayCancel, s.relayDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAppend(w, r)
	case http.MethodGet:
		s.handleQuery(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req model.AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ActorID == "" {
		req.ActorID = r.Header.Get(ActorHeader)
	}

	entry, err := s.appender.Append(r.Context(), req)
	if err != nil {
		writeAppendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := s.engine.Query(r.Context(), req)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleStream sends committed entries as NDJSON until the client goes
// away or the subscriber falls too far behind. An overrun closes the
// stream after a final marker line so the client knows it must re-sync
// through the query API rather than assume continuity.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub := s.broker.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-sub.Entries():
			if !ok {
				if sub.Overrun() {
					_ = enc.Encode(map[string]any{"overrun": true})
					flusher.Flush()
				}
				return
			}
			if err := enc.Encode(entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req ledger.VerifyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	result, err := s.verifier.Verify(r.Context(), req)
	if err != nil {
		switch {
		case model.IsValidation(err):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	// A divergent chain is still a successful verification run; the
	// verdict lives in the body.
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var columns []string
	if raw := r.URL.Query().Get("columns"); raw != "" {
		columns = strings.Split(raw, ",")
	}
	if columns, err = export.ValidateProjection(columns); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := parseQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Exports default to chronological order and ignore paging: the
	// whole filtered set is materialized.
	if r.URL.Query().Get("order") == "" {
		req.Order = model.OccurredAsc
	}
	entries, err := s.collectAll(r.Context(), req)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	switch format {
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	case export.FormatJSONL:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-export.jsonl"`)
	}
	if err := export.Render(w, format, entries, columns); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		logf("export render: %v", err)
	}
}

// collectAll pages through the full filtered set.
func (s *Server) collectAll(ctx context.Context, req model.QueryRequest) ([]model.LogEntry, error) {
	req.Limit = query.MaxLimit
	req.Offset = 0
	var out []model.LogEntry
	for {
		page, err := s.engine.Query(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Entries...)
		if !page.HasMore {
			return out, nil
		}
		req.Offset += len(page.Entries)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	tail, err := s.store.Tail(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tail":   tail.Sequence,
	})
}

// parseQueryRequest maps URL parameters onto a QueryRequest. Bounds
// checking is the engine's job; this only rejects unparseable values.
func parseQueryRequest(r *http.Request) (model.QueryRequest, error) {
	q := r.URL.Query()
	req := model.QueryRequest{
		Filter: model.Filter{
			EventType: q.Get("event_type"),
			ActorID:   q.Get("actor_id"),
			Resource:  q.Get("resource"),
			Outcome:   q.Get("outcome"),
			Search:    q.Get("search"),
		},
	}

	var err error
	if req.Filter.From, err = parseTime(q.Get("from")); err != nil {
		return req, model.Validationf("from", "invalid timestamp: %v", err)
	}
	if req.Filter.To, err = parseTime(q.Get("to")); err != nil {
		return req, model.Validationf("to", "invalid timestamp: %v", err)
	}
	if req.Limit, err = parseInt(q.Get("limit")); err != nil {
		return req, model.Validationf("limit", "invalid integer: %v", err)
	}
	if req.Offset, err = parseInt(q.Get("offset")); err != nil {
		return req, model.Validationf("offset", "invalid integer: %v", err)
	}

	switch q.Get("order") {
	case "":
		req.Order = model.OccurredDesc
	case "asc":
		req.Order = model.OccurredAsc
	case "desc":
		req.Order = model.OccurredDesc
	default:
		// Let the engine produce its usual validation error.
		req.Order = model.SortOrder(q.Get("order"))
	}
	return req, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeAppendError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrStaleTail):
		// Retries inside the appender are exhausted; the store is too
		// contended right now.
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeQueryError(w http.ResponseWriter, err error) {
	if model.IsValidation(err) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
