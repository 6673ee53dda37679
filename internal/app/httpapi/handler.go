// Package httpapi exposes the gateway's REST API: image intake, analysis,
// translation, conversations and key administration. Authentication happens
// in middleware; handlers here only translate between HTTP and the services.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/lenslab/vision-gateway/internal/app"
	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/domain/chat"
	"github.com/lenslab/vision-gateway/internal/app/metrics"
	analysissvc "github.com/lenslab/vision-gateway/internal/app/services/analysis"
	chatsvc "github.com/lenslab/vision-gateway/internal/app/services/chat"
	"github.com/lenslab/vision-gateway/internal/app/services/images"
	"github.com/lenslab/vision-gateway/internal/app/services/keys"
	translatesvc "github.com/lenslab/vision-gateway/internal/app/services/translate"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/httputil"
	"github.com/lenslab/vision-gateway/pkg/logger"
	"github.com/lenslab/vision-gateway/pkg/status"
)

const readyProbeTimeout = 5 * time.Second

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	log     *logger.Logger
	build   status.BuildInfo
	started time.Time
	checks  []readyCheck
	audit   *auditLog
}

type readyCheck struct {
	name  string
	probe func(context.Context) error
}

// Option customises the handler.
type Option func(*handler)

// WithBuildInfo sets the build identity reported by /api/status.
func WithBuildInfo(info status.BuildInfo) Option {
	return func(h *handler) { h.build = info }
}

// WithReadyCheck adds a dependency probe to /readyz.
func WithReadyCheck(name string, probe func(context.Context) error) Option {
	return func(h *handler) {
		if probe != nil {
			h.checks = append(h.checks, readyCheck{name: name, probe: probe})
		}
	}
}

// WithAuditFile mirrors admin audit entries to a JSONL file.
func WithAuditFile(path string) Option {
	return func(h *handler) {
		sink, err := newFileAuditSink(path)
		if err != nil {
			h.log.WithError(err).WithField("path", path).Error("open audit log file")
			return
		}
		h.audit.sink = sink
	}
}

// NewHandler returns a router exposing the REST API.
func NewHandler(application *app.Application, log *logger.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log, started: time.Now().UTC(), audit: newAuditLog(0, nil)}
	for _, opt := range opts {
		opt(h)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/auth/token", h.issueToken).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/images", h.uploadImage).Methods(http.MethodPost)
	api.HandleFunc("/images/{id}", h.getImage).Methods(http.MethodGet)
	api.HandleFunc("/images/{id}", h.deleteImage).Methods(http.MethodDelete)
	api.HandleFunc("/images/{id}/content", h.imageContent).Methods(http.MethodGet)
	api.HandleFunc("/analyses", h.createAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/analyses", h.listAnalyses).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id}", h.getAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id}", h.deleteAnalysis).Methods(http.MethodDelete)
	api.HandleFunc("/analyses/{id}/translate", h.translateAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/translate", h.translateText).Methods(http.MethodPost)
	api.HandleFunc("/conversations", h.openConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", h.getConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", h.deleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/keys", h.createKey).Methods(http.MethodPost)
	admin.HandleFunc("/keys", h.listKeys).Methods(http.MethodGet)
	admin.HandleFunc("/keys/{id}", h.revokeKey).Methods(http.MethodDelete)
	admin.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	return r
}

// Liveness and readiness ------------------------------------------------------

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	type checkResult struct {
		Name  string `json:"name"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	results := make([]checkResult, 0, len(h.checks))
	ready := true
	for _, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		err := check.probe(ctx)
		cancel()

		result := checkResult{Name: check.name, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
			ready = false
		}
		results = append(results, result)
	}

	code := http.StatusOK
	state := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    state,
		"checks":    results,
		"providers": h.providers(),
	})
}

func (h *handler) providers() map[string]bool {
	return map[string]bool{
		"vision":     h.app.Analysis.ClassicConfigured(),
		"chat_model": h.app.Analysis.EnhancedConfigured(),
		"translator": h.app.Translate.Configured(),
	}
}

// Auth ------------------------------------------------------------------------

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, expires, err := h.app.Keys.IssueJWT(r.Context(), payload.APIKey)
	h.audit.add(auditEntry{
		Time:       time.Now().UTC(),
		Action:     auditTokenIssue,
		OK:         err == nil,
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires,
	})
}

// Images ------------------------------------------------------------------------

func (h *handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	limit := h.app.Images.MaxBytes()
	// Base64 inflates payloads by a third; leave room for it plus envelope.
	r.Body = http.MaxBytesReader(w, r.Body, limit*2)

	data, declaredType, err := readUpload(r, limit)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.Is(err, images.ErrTooLarge), errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	img, err := h.app.Images.Upload(r.Context(), data, declaredType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

// readUpload accepts either a multipart form with an "image" part or a JSON
// body carrying base64 data.
func readUpload(r *http.Request, limit int64) ([]byte, string, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", fmt.Errorf("read multipart image: %w", err)
		}
		defer file.Close()

		data, truncated, err := httputil.ReadAllWithLimit(file, limit)
		if err != nil {
			return nil, "", fmt.Errorf("read image bytes: %w", err)
		}
		if truncated {
			return nil, "", fmt.Errorf("%w: limit is %d bytes", images.ErrTooLarge, limit)
		}
		return data, header.Header.Get("Content-Type"), nil
	}

	var payload struct {
		Data        string `json:"data"`
		ContentType string `json:"content_type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		return nil, "", err
	}
	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 image data: %w", err)
	}
	return data, payload.ContentType, nil
}

func (h *handler) getImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.app.Images.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (h *handler) imageContent(w http.ResponseWriter, r *http.Request) {
	img, data, err := h.app.Images.Content(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Images.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Analyses ----------------------------------------------------------------------

type analysisResponse struct {
	analysis.Record
	Suggestions []string `json:"suggestions,omitempty"`
}

func (h *handler) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ImageID  string   `json:"image_id"`
		URL      string   `json:"url"`
		Mode     string   `json:"mode"`
		Language string   `json:"language"`
		Features []string `json:"features"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, suggestions, err := h.app.Analysis.Analyze(r.Context(), analysissvc.Request{
		ImageID:  payload.ImageID,
		URL:      payload.URL,
		Mode:     analysis.Mode(payload.Mode),
		Language: payload.Language,
		Features: payload.Features,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysisResponse{Record: rec, Suggestions: suggestions})
}

func (h *handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.AnalysisFilter{
		Mode:     analysis.Mode(query.Get("mode")),
		Language: query.Get("language"),
		ImageID:  query.Get("image_id"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	records, err := h.app.Analysis.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []analysis.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Analysis.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Analysis.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) translateAnalysis(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To string `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.app.Analysis.TranslateResult(r.Context(), mux.Vars(r)["id"], payload.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Translation ---------------------------------------------------------------------

func (h *handler) translateText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text  string   `json:"text"`
		Texts []string `json:"texts"`
		To    string   `json:"to"`
		From  string   `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Text != "" && len(payload.Texts) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("text and texts are mutually exclusive"))
		return
	}
	texts := payload.Texts
	if payload.Text != "" {
		texts = []string{payload.Text}
	}

	translations, err := h.app.Translate.Translate(r.Context(), texts, payload.From, payload.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"translations": translations})
}

// Conversations ---------------------------------------------------------------------

type conversationResponse struct {
	chat.Conversation
	Suggestions []string `json:"suggestions,omitempty"`
}

func (h *handler) openConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AnalysisID string `json:"analysis_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conv, suggestions, err := h.app.Chat.Open(r.Context(), payload.AnalysisID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationResponse{Conversation: conv, Suggestions: suggestions})
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.app.Chat.List(r.Context(), r.URL.Query().Get("analysis_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, transcript, err := h.app.Chat.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		chat.Conversation
		Messages []chat.Message `json:"messages"`
	}{Conversation: conv, Messages: transcript})
}

func (h *handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Chat.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reply, suggestions, usage, err := h.app.Chat.Send(r.Context(), mux.Vars(r)["id"], payload.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     reply,
		"suggestions": suggestions,
		"usage":       usage,
	})
}

// Admin keys ---------------------------------------------------------------------

func (h *handler) createKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Label string `json:"label"`
		TTL   string `json:"ttl"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var ttl time.Duration
	if payload.TTL != "" {
		parsed, err := time.ParseDuration(payload.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid ttl %q: %v", payload.TTL, err))
			return
		}
		ttl = parsed
	}

	key, plaintext, err := h.app.Keys.CreateKey(r.Context(), payload.Label, ttl)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit.add(auditEntry{
		Time:       time.Now().UTC(),
		Action:     auditKeyCreate,
		KeyID:      key.ID,
		Label:      key.Label,
		OK:         true,
		RemoteAddr: r.RemoteAddr,
	})
	writeJSON(w, http.StatusCreated, struct {
		apikey.Key
		Secret string `json:"key"`
	}{Key: key, Secret: plaintext})
}

func (h *handler) listKeys(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Keys.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []apikey.Key{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.app.Keys.Revoke(r.Context(), id)
	h.audit.add(auditEntry{
		Time:       time.Now().UTC(),
		Action:     auditKeyRevoke,
		KeyID:      id,
		OK:         err == nil,
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// Helpers ---------------------------------------------------------------------

// writeServiceError maps service errors to HTTP statuses and a JSON body.
func writeServiceError(w http.ResponseWriter, err error) {
	var upstream *httputil.UpstreamError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, images.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, images.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err)
	case errors.Is(err, analysissvc.ErrNotConfigured),
		errors.Is(err, translatesvc.ErrNotConfigured),
		errors.Is(err, chatsvc.ErrNotConfigured),
		errors.Is(err, keys.ErrNoSecret):
		writeError(w, http.StatusNotImplemented, err)
	case errors.Is(err, keys.ErrInvalidKey), errors.Is(err, keys.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err)
	case errors.As(err, &upstream):
		if upstream.Transient() {
			writeError(w, http.StatusServiceUnavailable, err)
		} else {
			writeError(w, http.StatusBadGateway, err)
		}
	case errors.Is(err, images.ErrEmptyImage),
		errors.Is(err, analysissvc.ErrNoSource),
		errors.Is(err, analysissvc.ErrBadMode),
		errors.Is(err, analysissvc.ErrBadFeature),
		errors.Is(err, translatesvc.ErrEmptyText),
		errors.Is(err, translatesvc.ErrUnsupportedLanguage),
		errors.Is(err, chatsvc.ErrEmptyMessage),
		errors.Is(err, chatsvc.ErrTooLong),
		errors.Is(err, keys.ErrEmptyLabel):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
