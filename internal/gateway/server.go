package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fixmarket/pulse/internal/config"
	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/internal/storage"
	"github.com/fixmarket/pulse/pkg/models"
)

// Server is the HTTP front of the engine: the websocket endpoint for
// clients, the internal event API for upstream services, and the usual
// operational endpoints.
//
// Every surface authenticates. End users present session JWTs on the
// websocket and history endpoints; upstream services present JWTs signed with
// the same shared secret on the internal event API, with the subject naming
// the calling service.
type Server struct {
	service  *Service
	registry *delivery.Registry
	verifier *Verifier
	logger   *observability.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer

	http *http.Server
}

// NewServer builds the HTTP server around the engine service.
func NewServer(cfg config.ServerConfig, service *Service, registry *delivery.Registry, verifier *Verifier, logger *observability.Logger, metrics *observability.Metrics, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		service:  service,
		registry: registry,
		verifier: verifier,
		logger:   logger,
		metrics:  metrics,
		gatherer: gatherer,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", newWSHandler(s.service, s.registry, s.verifier, s.logger))

	internal := func(path string, next http.HandlerFunc) http.HandlerFunc {
		return s.instrument(path, s.requireService(next))
	}
	mux.HandleFunc("POST /internal/conversations", internal("/internal/conversations", s.handleEnsureConversation))
	mux.HandleFunc("POST /internal/events/job-completed", internal("/internal/events/job-completed", s.handleJobCompleted))
	mux.HandleFunc("POST /internal/events/review-submitted", internal("/internal/events/review-submitted", s.handleReviewSubmitted))
	mux.HandleFunc("POST /internal/events/message-send", internal("/internal/events/message-send", s.handleMessageSend))
	mux.HandleFunc("POST /internal/events/comment-create", internal("/internal/events/comment-create", s.handleCommentCreate))

	mux.HandleFunc("GET /api/notifications", s.instrument("/api/notifications", s.handleNotificationHistory))

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info(context.Background(), "http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requireService authenticates internal event API callers. Nothing on the
// domain layer runs for an unverified request.
func (s *Server) requireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.verifier.UserFromRequest(r)
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(observability.AddUserID(r.Context(), caller)))
	}
}

// instrument tags each request with an id and records latency by route.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.AddRequestID(r.Context(), uuid.NewString())
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(recorder, r.WithContext(ctx))

		s.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	}
}

type ensureConversationRequest struct {
	JobID   string `json:"jobId"`
	HirerID string `json:"hirerId"`
	FixerID string `json:"fixerId"`
}

func (s *Server) handleEnsureConversation(w http.ResponseWriter, r *http.Request) {
	var req ensureConversationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.JobID == "" || req.HirerID == "" || req.FixerID == "" {
		s.writeError(w, r, http.StatusBadRequest, "jobId, hirerId and fixerId are required")
		return
	}
	if err := s.service.EnsureConversation(r.Context(), req.JobID, req.HirerID, req.FixerID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"jobId": req.JobID})
}

type jobCompletedRequest struct {
	JobID    string `json:"jobId"`
	JobTitle string `json:"jobTitle"`
}

func (s *Server) handleJobCompleted(w http.ResponseWriter, r *http.Request) {
	var req jobCompletedRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		s.writeError(w, r, http.StatusBadRequest, "jobId is required")
		return
	}
	if err := s.service.JobCompleted(r.Context(), req.JobID, req.JobTitle); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"jobId": req.JobID})
}

type reviewSubmittedRequest struct {
	JobID        string `json:"jobId"`
	JobTitle     string `json:"jobTitle"`
	ReviewerName string `json:"reviewerName"`
	Role         string `json:"reviewerRole"`
}

func (s *Server) handleReviewSubmitted(w http.ResponseWriter, r *http.Request) {
	var req reviewSubmittedRequest
	if !s.decode(w, r, &req) {
		return
	}
	role := models.ReviewerRole(req.Role)
	if req.JobID == "" || !role.Valid() {
		s.writeError(w, r, http.StatusBadRequest, "jobId and a valid reviewerRole are required")
		return
	}
	if err := s.service.ReviewSubmitted(r.Context(), req.JobID, req.JobTitle, req.ReviewerName, role); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"jobId": req.JobID})
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	var req MessageSendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.JobID == "" || req.SenderID == "" || req.RecipientID == "" {
		s.writeError(w, r, http.StatusBadRequest, "jobId, senderId and recipientId are required")
		return
	}
	result, err := s.service.SendMessage(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCommentCreate(w http.ResponseWriter, r *http.Request) {
	var req CommentCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.JobID == "" || req.AuthorID == "" {
		s.writeError(w, r, http.StatusBadRequest, "jobId and authorId are required")
		return
	}
	result, err := s.service.CreateComment(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifier.UserFromRequest(r)
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	history, err := s.service.NotificationHistory(r.Context(), userID, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if history == nil {
		history = []*models.Notification{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notifications": history})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *ContentRejectedError
	switch {
	case errors.As(err, &rejected):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "content_rejected",
			"reason":     rejected.Reason,
			"violations": rejected.Violations,
		})
	case IsClosedError(err):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "conversation_closed",
			"reason": "this conversation has ended and can no longer receive messages",
		})
	case IsNotParticipantError(err):
		s.writeJSON(w, http.StatusForbidden, map[string]any{
			"error":  "not_participant",
			"reason": "the sender is not part of this conversation",
		})
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "not found")
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, _ *http.Request, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "response encode failed", "error", err)
	}
}
