package server

import (
	"log/slog"
	"net/http"

	"github.com/promptsheet/promptsheet/internal/async"
	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/dispatch"
	"github.com/promptsheet/promptsheet/internal/jobstore"
)

// Server wires the HTTP surface: bulk job submission and polling, plus a
// single-cell dispatch endpoint.
type Server struct {
	config     common.ServerConfig
	store      jobstore.Store
	coord      *batch.Coordinator
	runner     *async.Runner
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewServer(cfg common.ServerConfig, store jobstore.Store, coord *batch.Coordinator, runner *async.Runner, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     cfg,
		store:      store,
		coord:      coord,
		runner:     runner,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HTTPServer returns a configured http.Server ready to listen.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    s.config.Addr,
		Handler: s.RegisterRoutes(),
	}
}
