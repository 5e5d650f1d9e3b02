// Package ingress exposes a small local HTTP endpoint for feeding
// messages into the pipeline from outside the platform socket, e.g.
// test harnesses or replay scripts.
package ingress

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"beepbot/internal/chat"
	"beepbot/internal/runtime/supervisor"
	logx "beepbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

type Config struct {
	Enabled bool
	Addr    string
}

// Sink accepts ingested messages; satisfied by pipeline.Service.
type Sink interface {
	Ingest(m chat.Message) bool
}

type Server struct {
	cfg  Config
	sink Sink
	log  logx.Logger
	srv  *http.Server
}

type inboundMessage struct {
	Channel string `json:"channel"`
	Thread  string `json:"thread,omitempty"`
	User    string `json:"user"`
	Text    string `json:"text"`
	TS      string `json:"ts,omitempty"`
}

func New(cfg Config, sink Sink, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, sink: sink, log: log}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/messages", s.postMessage)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) postMessage(c *gin.Context) {
	var in inboundMessage
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body: " + err.Error()})
		return
	}
	if in.Channel == "" || in.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel and text are required"})
		return
	}

	m := chat.Message{
		Channel: in.Channel,
		Thread:  in.Thread,
		User:    in.User,
		Text:    in.Text,
		TS:      in.TS,
		At:      time.Now(),
	}
	if !s.sink.Ingest(m) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Start registers the listener and its shutdown hook on sup.
func (s *Server) Start(sup *supervisor.Supervisor) {
	sup.Go("ingress.serve", func(ctx context.Context) error {
		s.log.Info("ingress listening", logx.String("addr", s.cfg.Addr))
		errCh := make(chan error, 1)
		go func() { errCh <- s.srv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.srv.Shutdown(shutCtx)
			return ctx.Err()
		}
	})
}
