// Package api implements the tunnel server's management HTTP API
// (/api/sessions, /health) and the ingress-aware router that hands
// subdomain/path-routed public requests to the Proxy Engine.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/session"
)

// SessionHandler implements /api/sessions and /health.
type SessionHandler struct {
	sessions *session.Registry
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *session.Registry) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes wires the management API onto group.
func (h *SessionHandler) RegisterRoutes(group gin.IRouter) {
	group.POST("/api/sessions", h.create)
	group.GET("/api/sessions", h.list)
	group.GET("/api/sessions/:id", h.get)
	group.PUT("/api/sessions/:id", h.update)
	group.DELETE("/api/sessions/:id", h.delete)
	group.GET("/health", h.health)
}

type createSessionRequest struct {
	DeveloperID string                 `json:"developerId" binding:"required"`
	TargetPort  int                    `json:"targetPort"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *SessionHandler) create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONError(c, apperrors.InvalidRequest("invalid request body"))
		return
	}

	sess, err := h.sessions.CreateSession(req.DeveloperID, req.TargetPort, req.Metadata)
	if err != nil {
		writeJSONError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.ID,
		"session":   sess,
		"tunnelUrl": sess.TunnelURL,
	})
}

func (h *SessionHandler) get(c *gin.Context) {
	sess := h.sessions.GetSession(c.Param("id"))
	if sess == nil {
		writeJSONError(c, apperrors.SessionNotFound(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "tunnelUrl": sess.TunnelURL})
}

func (h *SessionHandler) list(c *gin.Context) {
	filter := session.Filter{
		DeveloperID: c.Query("developerId"),
		Status:      session.Status(c.Query("status")),
	}
	if portStr := c.Query("targetPort"); portStr != "" {
		if port, err := parsePort(portStr); err == nil {
			filter.TargetPort = port
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.ListSessions(filter)})
}

type updateSessionRequest struct {
	Status   *session.Status        `json:"status"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *SessionHandler) update(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONError(c, apperrors.InvalidRequest("invalid request body"))
		return
	}
	updated := h.sessions.UpdateSession(c.Param("id"), session.Patch{Status: req.Status, Metadata: req.Metadata})
	if updated == nil {
		writeJSONError(c, apperrors.SessionNotFound(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": updated})
}

func (h *SessionHandler) delete(c *gin.Context) {
	if !h.sessions.DeleteSession(c.Param("id")) {
		writeJSONError(c, apperrors.SessionNotFound(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SessionHandler) health(c *gin.Context) {
	active := h.sessions.ListSessions(session.Filter{Status: session.StatusActive})
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"activeSessions": len(active),
	})
}

func writeJSONError(c *gin.Context, err error) {
	te, ok := err.(*apperrors.TunnelError)
	if !ok {
		te = apperrors.InternalWrap(err)
	}
	c.JSON(te.StatusCode, te.ToResponse())
}

func parsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
