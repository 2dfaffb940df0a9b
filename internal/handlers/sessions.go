package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"table-service/internal/models"
	"table-service/internal/services"
	"table-service/internal/utils"
)

type SessionHandler struct {
	sessions *services.SessionService
}

func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// CreateSession opens a session from a scanned QR token.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	sess, err := h.sessions.CreateSession(c.Request.Context(), req, services.ClientInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, "Failed to create session", err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Session created", sess))
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to retrieve session", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session retrieved", sess))
}

func (h *SessionHandler) ValidateSession(c *gin.Context) {
	sess, err := h.sessions.ValidateSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Session is not valid", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session is valid", sess))
}

func (h *SessionHandler) UpdateSession(c *gin.Context) {
	var req models.SessionUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	sess, err := h.sessions.UpdateSession(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Failed to update session", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session updated", sess))
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	sess, err := h.sessions.CloseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to close session", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session closed", sess))
}

func (h *SessionHandler) ExtendSession(c *gin.Context) {
	sess, err := h.sessions.ExtendSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to extend session", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session extended", sess))
}

func (h *SessionHandler) ListTableSessions(c *gin.Context) {
	all := c.Query("all") == "true"

	sessions, err := h.sessions.ListTableSessions(c.Request.Context(), c.Param("id"), all)
	if err != nil {
		respondError(c, "Failed to list sessions", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Sessions retrieved", sessions))
}

type cleanupRequest struct {
	OlderThan      string                 `json:"olderThan"`
	Statuses       []models.SessionStatus `json:"statuses"`
	IncludeExpired bool                   `json:"includeExpired"`
	DryRun         bool                   `json:"dryRun"`
}

func (h *SessionHandler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request payload", err)
			return
		}
	}

	opts := models.CleanupOptions{
		Statuses:       req.Statuses,
		IncludeExpired: req.IncludeExpired,
		DryRun:         req.DryRun,
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative duration %s", req.OlderThan)
		}
		if err != nil {
			badRequest(c, "Invalid olderThan duration", err)
			return
		}
		opts.OlderThan = d
	}

	res, err := h.sessions.Cleanup(c.Request.Context(), opts)
	if err != nil {
		respondError(c, "Session cleanup failed", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session cleanup finished", res))
}
