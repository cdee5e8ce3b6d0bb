package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/sqlassistant/internal/domain/assistant"
	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	apperrors "github.com/yanqian/sqlassistant/pkg/errors"
)

const pageTemplate = "index.html"

// ReadinessProbe reports whether the example index can serve retrievals.
type ReadinessProbe interface {
	Ready() bool
}

// Handler wires the HTTP transport to domain services.
type Handler struct {
	assistantSvc assistant.Service
	historySvc   conversation.Service
	index        ReadinessProbe
	logger       *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(assistantSvc assistant.Service, historySvc conversation.Service, index ReadinessProbe, logger *slog.Logger) *Handler {
	return &Handler{
		assistantSvc: assistantSvc,
		historySvc:   historySvc,
		index:        index,
		logger:       logger.With("component", "http.handler"),
	}
}

type pageData struct {
	Question string
	Error    string
	History  []conversation.Entry
}

type askRequest struct {
	Question string `json:"question"`
}

// Page renders the question form followed by the session history, newest first.
func (h *Handler) Page(c *gin.Context) {
	h.renderPage(c, http.StatusOK, pageData{})
}

// SubmitForm answers a form submission and redirects back to the page.
// Failures are rendered inline and leave the history untouched.
func (h *Handler) SubmitForm(c *gin.Context) {
	session, _ := getSession(c)
	question := c.PostForm("question")

	if _, err := h.assistantSvc.Ask(c.Request.Context(), session, question); err != nil {
		httpErr := fromAppError(err)
		h.logger.Warn("form question failed", "code", httpErr.Code, "error", err)
		h.renderPage(c, httpErr.Status, pageData{Question: question, Error: errMessage(err)})
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// Ask is the JSON counterpart of the form.
func (h *Handler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	session, _ := getSession(c)

	res, err := h.assistantSvc.Ask(c.Request.Context(), session, req.Question)
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// History lists the session's answered questions, newest first.
func (h *Handler) History(c *gin.Context) {
	session, _ := getSession(c)
	entries, err := h.historySvc.List(c.Request.Context(), session)
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": session.ID, "entries": entries})
}

// RefreshSchema re-reads the table info used in prompts.
func (h *Handler) RefreshSchema(c *gin.Context) {
	tableInfo, err := h.assistantSvc.RefreshSchema(c.Request.Context())
	if err != nil {
		abortWithError(c, fromAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tableInfo": tableInfo})
}

// Healthz reports readiness of the example index.
func (h *Handler) Healthz(c *gin.Context) {
	if h.index != nil && !h.index.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "indexReady": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "indexReady": true})
}

func (h *Handler) renderPage(c *gin.Context, status int, data pageData) {
	session, _ := getSession(c)
	history, err := h.historySvc.List(c.Request.Context(), session)
	if err != nil {
		h.logger.Error("failed to load history", "session", session.ID, "error", err)
		if data.Error == "" {
			data.Error = errMessage(err)
			status = statusForCode(apperrors.CodeOf(err))
		}
	}
	data.History = history
	c.HTML(status, pageTemplate, data)
}
