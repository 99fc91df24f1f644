// Package app wires the application components shared by the server and CLI
// entry points.
package app

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pcormier/salvage/internal/config"
	"github.com/pcormier/salvage/internal/elevate"
	"github.com/pcormier/salvage/internal/handlers"
	"github.com/pcormier/salvage/internal/photorec"
	"github.com/pcormier/salvage/internal/services"
	"github.com/pcormier/salvage/internal/sweep"
)

// Server bundles the HTTP server and the resources behind it.
type Server struct {
	HTTP        *http.Server
	Config      *config.Config
	Coordinator *services.Coordinator
	Sweeper     *sweep.Sweeper
}

// NewController builds the recovery task controller from configuration.
func NewController(cfg *config.Config) *photorec.Controller {
	return photorec.NewController(photorec.Options{
		BinaryPath:       cfg.PhotorecBinary,
		ExpectPath:       cfg.ExpectBinary,
		ScratchDir:       cfg.ScratchDir,
		Runner:           elevate.NewRunner(),
		PollInterval:     cfg.PollInterval,
		ProgressInterval: cfg.ProgressInterval,
		PromptTable:      cfg.PromptOverrides,
	})
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(version string) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log.Printf("salvage starting...")
	log.Printf("  Port: %d", cfg.Port)
	log.Printf("  Engine: %s", cfg.PhotorecBinary)
	log.Printf("  Scratch: %s", cfg.ScratchDir)

	controller := NewController(cfg)
	coordinator := services.NewCoordinator(controller, cfg.FlushInterval, cfg.MaxLogLines)

	sweeper, err := sweep.New(cfg.ScratchDir, cfg.SweepSchedule, cfg.SweepMaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sweeper: %w", err)
	}
	sweeper.Start()

	h := handlers.New(coordinator, version)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:        server,
		Config:      cfg,
		Coordinator: coordinator,
		Sweeper:     sweeper,
	}, nil
}

// Cleanup releases all resources held by the server, cancelling any active
// recovery session.
func (s *Server) Cleanup() {
	if s.Sweeper != nil {
		s.Sweeper.Stop()
	}
	if s.Coordinator != nil {
		s.Coordinator.Cancel()
	}
}
