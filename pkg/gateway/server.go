package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/agorai/agorai/pkg/audit"
	"github.com/agorai/agorai/pkg/cache"
	"github.com/agorai/agorai/pkg/config"
	"github.com/agorai/agorai/pkg/identity"
	"github.com/agorai/agorai/pkg/metrics"
	"github.com/agorai/agorai/pkg/models"
	"github.com/agorai/agorai/pkg/quota"
)

const maxBodyBytes = 1 << 20

// Server is the agorai HTTP front end.
type Server struct {
	cfg     *config.Config
	gw      *Gateway
	auditor *audit.Logger
	log     logrus.FieldLogger
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer creates a Server. gatherer backs /metrics and may be nil;
// auditor may be nil to disable audit logging.
func NewServer(cfg *config.Config, gw *Gateway, gatherer prometheus.Gatherer, auditor *audit.Logger, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:     cfg,
		gw:      gw,
		auditor: auditor,
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/health", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = cors(cfg.CORSOrigins, s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Listen).Info("agorai gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := time.Now()

	var req models.QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.gw.metrics.Request(metrics.OutcomeBadRequest)
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	key := identity.FromRequest(r, s.cfg.TrustForwardedFor)
	resp, err := s.gw.Handle(r.Context(), key, req.Query)

	entry := models.AuditEntry{
		RequestID:      requestID(r),
		IdentityKey:    key,
		IdentityPrefix: identity.Prefix(key),
		Query:          cache.Normalize(req.Query),
		CreatedAt:      time.Now().UTC(),
	}
	defer func() {
		entry.LatencyMs = time.Since(start).Milliseconds()
		s.auditor.LogAsync(entry)
	}()

	if err != nil {
		code, msg := s.errorStatus(err)
		entry.StatusCode = code
		writeJSONError(w, code, msg)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		entry.StatusCode = http.StatusInternalServerError
		writeJSONError(w, http.StatusInternalServerError, "encode response")
		return
	}
	entry.StatusCode = http.StatusOK
	entry.Source = string(resp.Source)
	entry.ResponseBody = string(body)
	for _, res := range resp.Results {
		if !res.OK() {
			entry.ProviderErrors++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", entry.RequestID)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return http.StatusBadRequest, "query must be a non-empty string"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests, fmt.Sprintf("Daily query limit reached (%d per day)", s.gw.Limit())
	case errors.Is(err, quota.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "quota store unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			if allowed["*"] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"agorai_error","code":%d}}`, message, code)
}
