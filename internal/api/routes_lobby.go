package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type gameRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleGetGames returns the open games, pulling a fresh list when stale.
func (s *Server) handleGetGames(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), lobbyWait)
	defer cancel()

	games, err := s.ctl.Games(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(games), "games": games})
}

// handleGetClients returns the connected clients, pulling a fresh list when
// stale.
func (s *Server) handleGetClients(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), lobbyWait)
	defer cancel()

	clients, err := s.ctl.Clients(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(clients), "clients": clients})
}

// handleHostGame starts relay negotiation as host. The outcome arrives as
// a relay_ready or relay_failed event.
func (s *Server) handleHostGame(c *gin.Context) {
	var req gameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ctl.HostGame(c.Request.Context(), req.Name); err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("game", req.Name).Msg("API: hosting game")
	c.JSON(http.StatusAccepted, gin.H{"status": "negotiating", "game": req.Name})
}

// handleJoinGame starts relay negotiation as a joiner.
func (s *Server) handleJoinGame(c *gin.Context) {
	var req gameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ctl.JoinGame(c.Request.Context(), req.Name); err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("game", req.Name).Msg("API: joining game")
	c.JSON(http.StatusAccepted, gin.H{"status": "negotiating", "game": req.Name})
}

// handleStartGame tells the server the hosted game started.
func (s *Server) handleStartGame(c *gin.Context) {
	if err := s.ctl.StartGame(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// handleLeaveGame returns to the lobby.
func (s *Server) handleLeaveGame(c *gin.Context) {
	if err := s.ctl.LeaveGame(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}
