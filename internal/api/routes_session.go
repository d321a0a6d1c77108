package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/session"
)

type logoutRequest struct {
	Reason string `json:"reason"`
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	Recipient string `json:"recipient"`
}

type adminCommandRequest struct {
	Command string   `json:"command" binding:"required"`
	Args    []string `json:"args"`
}

// errorStatus maps a session or connector error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrDeficientPermission):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrAlreadyPending):
		return http.StatusConflict
	case errors.Is(err, session.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, connector.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("API: request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleGetStatus returns the session snapshot.
func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

// handleLogin logs in with the configured account.
func (s *Server) handleLogin(c *gin.Context) {
	if err := s.ctl.Login(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	log.Info().Msg("API: login requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting"})
}

// handleLogout disconnects from the metaserver.
func (s *Server) handleLogout(c *gin.Context) {
	var req logoutRequest
	// An empty body means the default reason.
	_ = c.ShouldBindJSON(&req)

	if err := s.ctl.Logout(c.Request.Context(), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("reason", req.Reason).Msg("API: logout requested")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// handleChat sends a chat line.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ctl.SendChat(c.Request.Context(), req.Message, req.Recipient); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// handleAdminCommand sends a superuser command.
func (s *Server) handleAdminCommand(c *gin.Context) {
	var req adminCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ctl.SendAdminCommand(c.Request.Context(), req.Command, req.Args...); err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("command", req.Command).Msg("API: admin command sent")
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}
