// Package monitor exposes the live pipeline state over HTTP and a
// websocket snapshot stream.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/metrics"
	"github.com/dudu/eyebox/internal/pipeline"
	"github.com/dudu/eyebox/internal/session"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 1000
	requestTimeout    = 5 * time.Second
)

// SnapshotSource is the worker as seen by the monitor.
type SnapshotSource interface {
	Snapshot() *pipeline.Snapshot
	Subscribe() (<-chan *pipeline.Snapshot, func())
	Enable()
	Enabled() bool
	Reset()
}

// Config holds monitor configuration
type Config struct {
	Release bool

	// PreviousMicrosleep is the flag left by the previous session, shown
	// until acknowledged.
	PreviousMicrosleep bool
}

// Server serves the monitoring API.
type Server struct {
	source  SnapshotSource
	store   session.Store
	alarm   pipeline.Alarm
	metrics *metrics.Metrics

	mu       sync.Mutex
	previous bool

	router   *gin.Engine
	upgrader websocket.Upgrader
	log      *log.Entry
}

// SessionState is the body of the session endpoints.
type SessionState struct {
	Microsleep         bool `json:"microsleep"`
	PreviousMicrosleep bool `json:"previous_session_microsleep"`
	AlarmPlaying       bool `json:"alarm_playing"`
	Analyzing          bool `json:"analyzing"`
}

// New creates the server and its routes.
func New(config Config, source SnapshotSource, store session.Store, alarm pipeline.Alarm, m *metrics.Metrics) *Server {
	if config.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		source:   source,
		store:    store,
		alarm:    alarm,
		metrics:  m,
		previous: config.PreviousMicrosleep,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.WithField("component", "monitor"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.cors())

	router.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/v1/snapshot", s.getSnapshot)
	router.GET("/v1/session", s.getSession)
	router.POST("/v1/session/ack", s.ackSession)
	router.POST("/v1/alarm/ack", s.ackAlarm)
	router.GET("/v1/events", s.getEvents)
	router.GET("/v1/metrics", s.getMetrics)
	router.GET("/v1/stream", s.stream)

	s.router = router
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("monitor listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) getSnapshot(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame processed yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) sessionState(ctx context.Context) (SessionState, error) {
	on, err := s.store.Microsleep(ctx)
	if err != nil {
		return SessionState{}, err
	}

	s.mu.Lock()
	previous := s.previous
	s.mu.Unlock()

	state := SessionState{
		Microsleep:         on,
		PreviousMicrosleep: previous,
		Analyzing:          s.source.Enabled(),
	}
	if s.alarm != nil {
		state.AlarmPlaying = s.alarm.Playing()
	}
	return state, nil
}

func (s *Server) getSession(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	state, err := s.sessionState(ctx)
	if err != nil {
		s.log.Errorf("failed to read session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't read session state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// ackSession acknowledges the microsleep reminder. The alarm stops, the
// stored flag is cleared, and analysis resumes with fresh eye states.
func (s *Server) ackSession(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if !s.stopAlarm(c) {
		return
	}
	if err := s.store.SetMicrosleep(ctx, false); err != nil {
		s.log.Errorf("failed to clear microsleep flag: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't clear session state"})
		return
	}

	s.mu.Lock()
	s.previous = false
	s.mu.Unlock()
	s.source.Reset()
	s.source.Enable()

	s.log.Info("microsleep acknowledged")
	s.getSession(c)
}

// ackAlarm silences the alarm and resumes analysis but keeps the flag for
// the next session's reminder.
func (s *Server) ackAlarm(c *gin.Context) {
	if !s.stopAlarm(c) {
		return
	}
	s.source.Enable()
	s.getSession(c)
}

func (s *Server) stopAlarm(c *gin.Context) bool {
	if s.alarm == nil {
		return true
	}
	if err := s.alarm.Stop(); err != nil {
		s.log.Errorf("failed to stop alarm: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't stop alarm"})
		return false
	}
	return true
}

func (s *Server) getEvents(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	events, err := s.store.Events(ctx, limit)
	if err != nil {
		s.log.Errorf("failed to read events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't read events"})
		return
	}
	if events == nil {
		events = []session.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Report())
}
