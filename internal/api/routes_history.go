package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func historyLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}

func (s *Server) requireHistory(c *gin.Context) bool {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return false
	}
	return true
}

// handleGetChatHistory returns recent chat lines, newest first.
func (s *Server) handleGetChatHistory(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok || !s.requireHistory(c) {
		return
	}
	records, err := s.history.RecentChat(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "messages": records})
}

// handleGetNotices returns recent MOTDs, announcements and server errors.
func (s *Server) handleGetNotices(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok || !s.requireHistory(c) {
		return
	}
	records, err := s.history.RecentNotices(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "notices": records})
}

// handleGetSessions returns recent logins.
func (s *Server) handleGetSessions(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok || !s.requireHistory(c) {
		return
	}
	records, err := s.history.RecentSessions(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "sessions": records})
}
