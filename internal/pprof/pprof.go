// Package pprof exposes runtime profiling for a running server.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/threaddeck/internal/logger"
)

// Config selects the profiling outputs. Empty fields are disabled.
type Config struct {
	HTTPAddr    string // address for the /debug/pprof endpoints
	CPUProfile  string // CPU profile written between Start and Stop
	HeapProfile string // heap profile written on Stop
}

// Enabled reports whether any output is configured.
func (c Config) Enabled() bool {
	return c.HTTPAddr != "" || c.CPUProfile != "" || c.HeapProfile != ""
}

// Handler manages the profiling lifecycle.
type Handler struct {
	config   Config
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File
	log      *logger.Logger

	mu      sync.Mutex
	stopped bool
}

// NewHandler creates a handler for config.
func NewHandler(config Config) *Handler {
	return &Handler{
		config: config,
		log:    logger.Global().WithPrefix("pprof"),
	}
}

// Routes returns the profiling endpoints.
func Routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/debug/pprof/", netpprof.Index)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/cmdline", netpprof.Cmdline)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/profile", netpprof.Profile)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/symbol", netpprof.Symbol)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/trace", netpprof.Trace)
	for _, name := range []string{"goroutine", "heap", "block", "mutex", "threadcreate", "allocs"} {
		router.Handler(http.MethodGet, "/debug/pprof/"+name, netpprof.Handler(name))
	}
	return router
}

// Start begins CPU profiling and serves the endpoints as configured.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		f, err := create(h.config.CPUProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.HTTPAddr != "" {
		ln, err := net.Listen("tcp", h.config.HTTPAddr)
		if err != nil {
			h.stopCPU()
			return fmt.Errorf("failed to bind pprof HTTP server: %w", err)
		}
		h.listener = ln
		h.server = &http.Server{
			Handler:           Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.NewSlogHandler(h.log), slog.LevelWarn),
		}

		go func() {
			h.log.Info("serving profiles on %s", ln.Addr())
			if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.log.Error("pprof server error: %v", err)
			}
		}()
	}
	return nil
}

// Addr returns the bound profiling address, or "" when not serving.
func (h *Handler) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Stop finishes the CPU profile, writes the heap profile and shuts the
// server down. Later calls are no-ops.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if err := h.stopCPU(); err != nil {
		errs = append(errs, err)
	}

	if h.config.HeapProfile != "" {
		if err := writeProfile("heap", h.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}

	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown pprof server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}
	return errors.Join(errs...)
}

func (h *Handler) stopCPU() error {
	if h.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := h.cpuFile.Close()
	h.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func writeProfile(name, path string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer f.Close()
	if err := p.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
