package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/physicalai/tutor/internal/history"
	"github.com/physicalai/tutor/internal/tutor"
)

// unavailableMessage is deliberately non-technical: students should never
// see backend terminology.
const unavailableMessage = "The tutor is temporarily unavailable. Please try again in a moment."

// tutorHandler serves the question, history, personalize, and translate
// endpoints.
type tutorHandler struct {
	service *tutor.Service
	logger  *slog.Logger
}

type questionRequest struct {
	Question     string `json:"question"`
	SelectedText string `json:"selected_text,omitempty"`
	ChapterScope string `json:"chapter_scope,omitempty"`
}

// question handles POST /api/v1/chat/question.
func (h *tutorHandler) question(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", h.logger)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		WriteError(w, http.StatusBadRequest, "missing_question", "question is required", h.logger)
		return
	}
	if len(req.Question) > tutor.MaxQuestionLength {
		WriteError(w, http.StatusBadRequest, "question_too_long", "question exceeds the maximum length", h.logger)
		return
	}

	userID, _ := userIDFromContext(r.Context())

	resp, err := h.service.Ask(r.Context(), tutor.AskRequest{
		UserID:       userID,
		Question:     req.Question,
		SelectedText: req.SelectedText,
		ChapterScope: req.ChapterScope,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp, h.logger)
}

// chatHistory handles GET /api/v1/chat/history.
func (h *tutorHandler) chatHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	if userID == "" || strings.HasPrefix(userID, "anon:") {
		WriteError(w, http.StatusUnauthorized, "auth_required", "history requires authentication", h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	items, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("history listing failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "history_failed", "failed to load history", h.logger)
		return
	}
	if items == nil {
		items = []history.Interaction{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"interactions": items,
		"count":        len(items),
	}, h.logger)
}

type personalizeRequest struct {
	ChapterID string `json:"chapter_id"`
	Content   string `json:"content"`
	Level     string `json:"level"`
}

// personalize handles POST /api/v1/personalize.
func (h *tutorHandler) personalize(w http.ResponseWriter, r *http.Request) {
	var req personalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", h.logger)
		return
	}
	level := tutor.Level(strings.ToLower(strings.TrimSpace(req.Level)))
	if !level.Valid() {
		WriteError(w, http.StatusBadRequest, "invalid_level", "level must be beginner, intermediate, or advanced", h.logger)
		return
	}
	if err := validateChapterBody(req.ChapterID, req.Content); err != "" {
		WriteError(w, http.StatusBadRequest, err, "chapter_id and content are required", h.logger)
		return
	}

	userID, _ := userIDFromContext(r.Context())
	resp, err := h.service.Personalize(r.Context(), tutor.PersonalizeRequest{
		UserID:    userID,
		ChapterID: req.ChapterID,
		Content:   req.Content,
		Level:     level,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp, h.logger)
}

type translateRequest struct {
	ChapterID string `json:"chapter_id"`
	Content   string `json:"content"`
}

// translate handles POST /api/v1/translate.
func (h *tutorHandler) translate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", h.logger)
		return
	}
	if err := validateChapterBody(req.ChapterID, req.Content); err != "" {
		WriteError(w, http.StatusBadRequest, err, "chapter_id and content are required", h.logger)
		return
	}

	userID, _ := userIDFromContext(r.Context())
	resp, err := h.service.Translate(r.Context(), tutor.TranslateRequest{
		UserID:    userID,
		ChapterID: req.ChapterID,
		Content:   req.Content,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp, h.logger)
}

func validateChapterBody(chapterID, content string) string {
	if strings.TrimSpace(chapterID) == "" {
		return "missing_chapter_id"
	}
	if strings.TrimSpace(content) == "" {
		return "missing_content"
	}
	if len(content) > tutor.MaxChapterLength {
		return "content_too_long"
	}
	return ""
}

// writeServiceError maps pipeline errors to HTTP responses. Only the
// rate-limit denial and the two availability sentinels are user-visible;
// everything else is an internal error.
func (h *tutorHandler) writeServiceError(w http.ResponseWriter, err error) {
	if rle, ok := tutor.AsRateLimited(err); ok {
		seconds := int64(math.Ceil(rle.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate_limited",
			"message":             "You have reached your usage limit. Please try again later.",
			"retry_after_seconds": seconds,
		}, h.logger)
		return
	}

	if errors.Is(err, tutor.ErrRetrievalUnavailable) || errors.Is(err, tutor.ErrGenerationUnavailable) {
		h.logger.Error("backend unavailable", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "unavailable", unavailableMessage, h.logger)
		return
	}

	h.logger.Error("request failed", "error", err)
	WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
}
