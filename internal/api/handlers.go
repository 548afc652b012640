// Package api exposes the momentum HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"example.com/momentum/internal/auth"
	"example.com/momentum/internal/domain"
	"example.com/momentum/internal/feedback"
)

const (
	maxBodyBytes         = 1 << 20
	defaultIncrement     = 10
	defaultFeedbackRate  = 6
	defaultFeedbackBurst = 3
)

// FeedbackGenerator produces motivational text for a run history.
type FeedbackGenerator interface {
	Generate(ctx context.Context, requester string, history []feedback.Entry) (string, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithFeedbackLimit sets the per-user feedback rate. A non-positive rate disables limiting.
func WithFeedbackLimit(perMinute, burst int) Option {
	return func(h *Handler) {
		h.limiter = newSubjectLimiter(perMinute, burst)
	}
}

// WithIncrementDefault sets the delta used when an increment request omits one.
func WithIncrementDefault(delta int) Option {
	return func(h *Handler) {
		if delta > 0 {
			h.incrementDefault = delta
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.log = logger
		}
	}
}

// Handler coordinates HTTP requests with the progression engine and feedback service.
type Handler struct {
	engine           *domain.Engine
	feedback         FeedbackGenerator
	limiter          *subjectLimiter
	incrementDefault int
	log              logrus.FieldLogger
}

// NewHandler builds a Handler.
func NewHandler(engine *domain.Engine, generator FeedbackGenerator, opts ...Option) *Handler {
	h := &Handler{
		engine:           engine,
		feedback:         generator,
		limiter:          newSubjectLimiter(defaultFeedbackRate, defaultFeedbackBurst),
		incrementDefault: defaultIncrement,
		log:              logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/me", h.me)
	mux.HandleFunc("/v1/me/runs", h.runs)
	mux.HandleFunc("/v1/me/goal", h.goal)
	mux.HandleFunc("/v1/me/goal/increment", h.incrementGoal)
	mux.HandleFunc("/v1/me/notification-address", h.notificationAddress)
	mux.HandleFunc("/v1/feedback", h.generateFeedback)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	user, err := h.engine.Profile(r.Context(), subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProfileView(user))
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listRuns(w, r)
	case http.MethodPost:
		h.confirmRun(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	user, err := h.engine.Profile(r.Context(), subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]RunView, 0, len(user.History))
	for _, run := range user.History {
		items = append(items, toRunView(run))
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Items: items})
}

func (h *Handler) confirmRun(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	result, err := h.engine.ConfirmRun(r.Context(), subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ConfirmRunResponse{
		Streak:        result.Streak,
		LongestStreak: result.User.LongestStreak,
		Run:           toRunView(result.Run),
	})
}

func (h *Handler) goal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	minutes, present, err := minutesField(body, "duration")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !present {
		writeError(w, http.StatusBadRequest, "validation_failed", "duration is required")
		return
	}

	user, err := h.engine.SetGoal(r.Context(), subject, minutes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProfileView(user))
}

func (h *Handler) incrementGoal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	delta := h.incrementDefault
	if len(body) > 0 {
		value, present, err := minutesField(body, "delta")
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if present {
			delta = value
		}
	}

	user, err := h.engine.IncrementGoal(r.Context(), subject, delta)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProfileView(user))
}

func (h *Handler) notificationAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	var req NotificationAddressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user, err := h.engine.SetNotificationAddress(r.Context(), subject, req.Address)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProfileView(user))
}

func (h *Handler) generateFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if h.feedback == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "feedback is not configured")
		return
	}

	subject := auth.SubjectFromContext(r.Context())
	if subject == "" {
		writeFeedbackError(w, feedback.ErrUnauthenticated)
		return
	}
	if !h.limiter.Allow(subject) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many feedback requests, try again later")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeFeedbackError(w, fmt.Errorf("%w: %v", feedback.ErrInvalidArgument, err))
		return
	}
	history, err := feedback.ParseHistory(body)
	if err != nil {
		writeFeedbackError(w, err)
		return
	}

	text, err := h.feedback.Generate(r.Context(), subject, history)
	if err != nil {
		writeFeedbackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Feedback: text})
}

func requireSubject(w http.ResponseWriter, r *http.Request) (string, bool) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
		return "", false
	}
	return subject, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("unable to read body")
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return nil, errors.New("body is not valid JSON")
	}
	return body, nil
}

// minutesField reads a whole number of minutes that may arrive as a JSON number or as
// a numeric string.
func minutesField(body []byte, key string) (int, bool, error) {
	value := gjson.GetBytes(body, key)
	if !value.Exists() || value.Type == gjson.Null {
		return 0, false, nil
	}
	switch value.Type {
	case gjson.Number:
		if value.Num != math.Trunc(value.Num) || math.Abs(value.Num) > math.MaxInt32 {
			return 0, true, fmt.Errorf("%w: %s must be a whole number of minutes", domain.ErrValidation, key)
		}
		return int(value.Num), true, nil
	case gjson.String:
		minutes, err := domain.ParseMinutes(value.Str)
		return minutes, true, err
	default:
		return 0, true, fmt.Errorf("%w: %s must be a number", domain.ErrValidation, key)
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrPrecondition):
		writeError(w, http.StatusConflict, "precondition_failed", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "the record changed concurrently, retry the request")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeFeedbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feedback.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "the request must carry a caller identity")
	case errors.Is(err, feedback.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "unable to generate feedback")
	}
}

// NotificationAddressRequest is the payload for PUT /v1/me/notification-address.
type NotificationAddressRequest struct {
	Address string `json:"address"`
}

// ProfileView is the public shape of a user's progression state.
type ProfileView struct {
	UserID                 string     `json:"user_id"`
	Goal                   *int       `json:"goal"`
	Streak                 int        `json:"streak"`
	LongestStreak          int        `json:"longest_streak"`
	LastRun                *time.Time `json:"last_run,omitempty"`
	HasRunToday            bool       `json:"has_run_today"`
	State                  string     `json:"state"`
	RunCount               int        `json:"run_count"`
	NotificationRegistered bool       `json:"notification_registered"`
}

// RunView is one confirmed run.
type RunView struct {
	RunID    string    `json:"run_id"`
	Date     time.Time `json:"date"`
	Duration int       `json:"duration"`
}

// ListRunsResponse packages the run history.
type ListRunsResponse struct {
	Items []RunView `json:"items"`
}

// ConfirmRunResponse describes the outcome of POST /v1/me/runs.
type ConfirmRunResponse struct {
	Streak        int     `json:"streak"`
	LongestStreak int     `json:"longest_streak"`
	Run           RunView `json:"run"`
}

// FeedbackResponse carries generated feedback text.
type FeedbackResponse struct {
	Feedback string `json:"feedback"`
}

func (h *Handler) toProfileView(user *domain.UserRecord) ProfileView {
	return ProfileView{
		UserID:                 user.ID,
		Goal:                   user.CurrentGoal,
		Streak:                 user.Streak,
		LongestStreak:          user.LongestStreak,
		LastRun:                user.LastRun,
		HasRunToday:            h.engine.HasRunToday(user),
		State:                  string(h.engine.State(user)),
		RunCount:               len(user.History),
		NotificationRegistered: user.NotificationAddress != "",
	}
}

func toRunView(run domain.RunRecord) RunView {
	return RunView{RunID: run.ID, Date: run.Date, Duration: run.Duration}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
