package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	connected := 0
	nodes := s.reg.Nodes()
	for _, n := range nodes {
		if n.Connected() {
			connected++
		}
	}
	status := "ok"
	code := http.StatusOK
	if connected == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"nodes":     len(nodes),
		"connected": connected,
		"players":   len(s.reg.Players()),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) listNodes(c *gin.Context) {
	nodes := s.reg.Nodes()
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeView(n))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getNode(c *gin.Context) {
	id := c.Param("id")
	n := s.reg.Node(id)
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found: " + id})
		return
	}
	c.JSON(http.StatusOK, nodeView(n))
}

func (s *Server) listPlayers(c *gin.Context) {
	players := s.reg.Players()
	out := make([]PlayerView, 0, len(players))
	for _, p := range players {
		out = append(out, playerView(p))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPlayer(c *gin.Context) {
	guildID := c.Param("guildId")
	p := s.reg.Player(guildID)
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found: " + guildID})
		return
	}
	c.JSON(http.StatusOK, playerView(p))
}
