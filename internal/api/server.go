package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"farm-automation/internal/logging"
)

// Server runs the gin engine on an http.Server so it can be shut down
// gracefully.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

func NewServer(port int, router *gin.Engine, logger *logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.WithComponent("http"),
	}
}

// Start serves in the background. errCh receives the error if the listener
// fails for any reason other than Shutdown.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		s.log.Infof("Starting API server on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server failed: %w", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
