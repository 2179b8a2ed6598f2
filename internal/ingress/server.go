// internal/ingress/server.go
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

const maxPayloadBytes = 1 << 20

// Dispatcher consumes the normalized events the server produces.
type Dispatcher interface {
	Dispatch(ctx context.Context, event events.Event) error
}

// Server is the GitHub webhook ingress: signature verification, per-IP
// rate limiting, payload mapping, dispatch. Events it cannot map are
// acknowledged and dropped; GitHub retries only on non-2xx.
type Server struct {
	dispatcher Dispatcher
	mapper     *Mapper
	secret     config.Secret
	logger     *logging.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter
	lastCleanup  time.Time
}

// NewServer wires the ingress server.
func NewServer(dispatcher Dispatcher, mapper *Mapper, secret config.Secret, logger *logging.Logger) *Server {
	return &Server{
		dispatcher:   dispatcher,
		mapper:       mapper,
		secret:       secret,
		logger:       logger.Named("ingress"),
		rateLimiters: make(map[string]*rate.Limiter),
		lastCleanup:  time.Now(),
	}
}

// Handler returns the HTTP mux for the ingress endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if deliveryID := github.DeliveryID(r); deliveryID != "" {
		ctx = logging.WithDeliveryID(ctx, deliveryID)
	}

	clientIP := clientIP(r)
	if !s.limiterFor(clientIP).Allow() {
		s.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", clientIP))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	payload, err := github.ValidatePayload(r, []byte(s.secret.Value()))
	if err != nil {
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	parsed, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		s.logger.Warn(ctx, "failed to parse webhook", zap.Error(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	event, ok := s.mapEvent(parsed)
	if !ok {
		s.logger.Debug(ctx, "ignoring webhook",
			zap.String("github_event", github.WebHookType(r)))
		writeOK(w)
		return
	}

	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.Error(ctx, "dispatch failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeOK(w)
}

func (s *Server) mapEvent(parsed any) (events.Event, bool) {
	switch e := parsed.(type) {
	case *github.PullRequestEvent:
		return s.mapper.MapPullRequest(e)
	case *github.PullRequestReviewEvent:
		return s.mapper.MapPullRequestReview(e)
	case *github.WorkflowRunEvent:
		return s.mapper.MapWorkflowRun(e)
	default:
		return events.Event{}, false
	}
}

// limiterFor returns the per-IP limiter: 1 request per second with a
// burst of 10. The table is reset hourly so dead IPs do not accumulate.
func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastCleanup) > time.Hour {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, ok := s.rateLimiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		s.rateLimiters[ip] = limiter
	}
	return limiter
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// Listen serves the ingress on the given port until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ingress server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
