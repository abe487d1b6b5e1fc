// Package httpapi exposes the coordinator to widgets over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"habitkeeper/internal/coordinator"
	"habitkeeper/internal/decision"
	"habitkeeper/internal/ipc"
)

// Service is the daemon surface the handlers call.
type Service interface {
	Intent(ctx context.Context, habitID string, intent decision.Intent, req coordinator.Request) (ipc.DecisionData, error)
	Confirm(ctx context.Context, habitID, choice string, platform decision.Platform) (ipc.DecisionData, error)
	State() coordinator.State
}

type Server struct {
	addr   string
	svc    Service
	router *gin.Engine
}

type intentBody struct {
	RequestedDurationSec int `json:"requested_duration_sec"`
}

func NewServer(addr string, svc Service) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{addr: addr, svc: svc, router: router}

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/habits/:id/intents/:intent", s.handleIntent)
		api.POST("/habits/:id/confirm/:choice", s.handleConfirm)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown: %v", err)
		}
	}()

	log.Printf("HTTP API listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.svc.State()})
}

func (s *Server) handleIntent(c *gin.Context) {
	intent, err := decision.ParseIntent(c.Param("intent"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body intentBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}

	data, err := s.svc.Intent(c.Request.Context(), c.Param("id"), intent, coordinator.Request{
		Platform:             decision.PlatformWidget,
		RequestedDurationSec: body.RequestedDurationSec,
	})
	respond(c, data, err)
}

func (s *Server) handleConfirm(c *gin.Context) {
	data, err := s.svc.Confirm(c.Request.Context(), c.Param("id"), c.Param("choice"), decision.PlatformWidget)
	respond(c, data, err)
}

// respond maps a refusal to 409 so widgets can show the message as-is.
func respond(c *gin.Context, data ipc.DecisionData, err error) {
	if errors.Is(err, coordinator.ErrNoConfirmation) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if data.Outcome == "disallow" {
		status = http.StatusConflict
	}
	c.JSON(status, data)
}
