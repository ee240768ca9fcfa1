// Package statusapi serves a small read-only HTTP endpoint with process
// and per-guild playback status.
package statusapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jukebird/internal/music/session"
	"jukebird/internal/version"
)

type Server struct {
	registry *session.Registry
	addr     string
	started  time.Time
}

func New(registry *session.Registry, addr string) *Server {
	return &Server{
		registry: registry,
		addr:     addr,
		started:  time.Now(),
	}
}

type sessionStatus struct {
	GuildID      string `json:"guild_id"`
	State        string `json:"state"`
	QueueLength  int    `json:"queue_length"`
	CurrentIndex int    `json:"current_index"`
	LoopMode     string `json:"loop_mode"`
	NowPlaying   string `json:"now_playing,omitempty"`
	Progress     int    `json:"progress_seconds,omitempty"`
}

// Run serves until the context ends, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", func(c *gin.Context) {
		sessions := []sessionStatus{}
		for _, sess := range s.registry.Active() {
			st := sessionStatus{
				GuildID:      sess.GuildID,
				State:        sess.State().String(),
				QueueLength:  len(sess.Queue()),
				CurrentIndex: sess.CurrentIndex(),
				LoopMode:     sess.LoopMode().String(),
			}
			if t, progress, _, err := sess.NowPlaying(); err == nil {
				st.NowPlaying = t.Title
				st.Progress = progress
			}
			sessions = append(sessions, st)
		}
		c.JSON(http.StatusOK, gin.H{
			"app":            version.AppName,
			"version":        version.AppVersion,
			"uptime_seconds": int(time.Since(s.started).Seconds()),
			"sessions":       sessions,
		})
	})

	srv := &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[StatusAPI] Listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[StatusAPI] Shutdown failed: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
