package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wlnet/metaclient/internal/health"
	"github.com/wlnet/metaclient/internal/protocol"
	"github.com/wlnet/metaclient/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "metaclient",
		"protocol_version": protocol.ProtocolVersion,
	})
}

// handleGetSystem returns host information and current resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system":    util.GetSystemInfo(),
		"resources": util.GetResourceUsage(),
	})
}

// handleGetHealth returns the latest health check results. The overall
// status is the worst level seen.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks are disabled"})
		return
	}

	results := s.health.Results()
	overall := health.LevelOK
	for _, r := range results {
		if levelRank(r.Level) > levelRank(overall) {
			overall = r.Level
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": overall,
		"checks": results,
	})
}

func levelRank(l health.Level) int {
	switch l {
	case health.LevelInfo:
		return 1
	case health.LevelWarning:
		return 2
	case health.LevelError:
		return 3
	case health.LevelCritical:
		return 4
	default:
		return 0
	}
}
