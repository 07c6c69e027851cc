// Package console is the local control endpoint of a running bot. Lines
// posted to it are handled as inbox messages, so every inbox command works
// from the console too.
package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/bot"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

const (
	DefaultAddr = "127.0.0.1:5151"
	// DefaultUser is the author of console messages.
	DefaultUser = "console_user"
)

// ErrQueueClosed is returned when the bot no longer accepts messages.
var ErrQueueClosed = errors.New("message queue closed")

// Backend is the part of the manager the console drives.
type Backend interface {
	Deliver(msg platform.InboxMessage) bool
	Status() bot.Status
	Modqueue(ctx context.Context, subreddit string) ([]platform.Report, error)
}

// Request is the body of POST /console.
type Request struct {
	Data string `json:"data" binding:"required"`
}

// Response acknowledges a queued console line.
type Response struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
}

// APIError is the error envelope of every endpoint.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

// Server serves the console endpoints.
type Server struct {
	addr    string
	user    string
	backend Backend
	log     *zap.SugaredLogger
	now     func() time.Time
	engine  *gin.Engine
	seq     atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithUser sets the author of console messages.
func WithUser(user string) Option {
	return func(s *Server) { s.user = user }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the server; nothing listens until Run.
func New(addr string, backend Backend, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		user:    DefaultUser,
		backend: backend,
		log:     zap.NewNop().Sugar(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/console", s.postConsole)
	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/modqueue/:subreddit", s.getModqueue)
	}
	s.engine = r
	return s
}

// Handler exposes the routes, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("console listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("console: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("console shutdown: %w", err)
	}
	<-errc
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("console request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func (s *Server) postConsole(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}

	id := "console_" + strconv.FormatInt(s.seq.Add(1), 10)
	msg := platform.InboxMessage{
		ID:      id,
		Author:  s.user,
		Subject: "console",
		Body:    req.Data,
		Created: s.now(),
	}
	if !s.backend.Deliver(msg) {
		respondError(c, http.StatusServiceUnavailable, "QUEUE_CLOSED", ErrQueueClosed)
		return
	}
	s.log.Infow("console message queued", "id", id, "user", s.user)
	c.JSON(http.StatusAccepted, Response{ID: id, Queued: true})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Status())
}

func (s *Server) getModqueue(c *gin.Context) {
	sub := c.Param("subreddit")
	items, err := s.backend.Modqueue(c.Request.Context(), sub)
	if errors.Is(err, platform.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", err)
		return
	}
	if err != nil {
		respondError(c, http.StatusBadGateway, "PLATFORM", err)
		return
	}
	if items == nil {
		items = []platform.Report{}
	}
	c.JSON(http.StatusOK, gin.H{"subreddit": sub, "items": items})
}
