// Package server orchestrates all components: line transports, COMMS client, failure journal, dispatcher, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/jsonrpc2/internal/config"
	"github.com/morezero/jsonrpc2/pkg/commsutil"
	"github.com/morezero/jsonrpc2/pkg/db"
	"github.com/morezero/jsonrpc2/pkg/dispatcher"
	"github.com/morezero/jsonrpc2/pkg/events"
	"github.com/morezero/jsonrpc2/pkg/lanes"
	"github.com/morezero/jsonrpc2/pkg/registry"
	"github.com/morezero/jsonrpc2/pkg/semver"
	"github.com/morezero/jsonrpc2/pkg/transport"
)

const logPrefix = "server:server"

// WorkerCommand is the subcommand the Process lane passes to the re-executed binary.
const WorkerCommand = "worker"

// InstallFunc registers the methods served by this process and by its Process lane workers.
type InstallFunc func(reg *registry.Registry) error

// Server is the jsonrpc2d orchestrator.
type Server struct {
	cfg        *config.Config
	disp       *dispatcher.Dispatcher
	threads    *lanes.Pool
	nc         *comms.Conn
	pool       *pgxpool.Pool
	journal    pinger
	tcp        *transport.TCPServer
	tcpAddr    net.Addr
	rpc        *transport.CommsServer
	httpServer *http.Server
}

// ParseLogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging installs the default text logger at level, writing to w.
func SetupLogging(w *os.File, level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLogLevel(level)})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run(install InstallFunc) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return fmt.Errorf("%s - invalid config: %w", logPrefix, err)
	}
	SetupLogging(os.Stdout, cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting jsonrpc2d", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg, install)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Shutdown(context.Background())
		return err
	}

	slog.Info(fmt.Sprintf("%s - jsonrpc2d is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New builds every component cfg enables. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config, install InstallFunc) (*Server, error) {
	s := &Server{cfg: cfg}

	// Step 1: Registry
	reg := registry.NewRegistry()
	if install != nil {
		if err := install(reg); err != nil {
			return nil, fmt.Errorf("%s - failed to install methods: %w", logPrefix, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - Registered %d methods", logPrefix, reg.Len()))

	// Step 2: Lanes
	s.threads = lanes.NewPool("thread", cfg.ThreadPoolSize)
	process, err := NewProcessExecutor(cfg, reg)
	if err != nil {
		return nil, err
	}

	// Step 3: Failure journal (optional)
	publishers := []events.EventPublisher{}
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool

		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrations(cfg.MigrationPath)
			if err != nil {
				s.Shutdown(ctx)
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				s.Shutdown(ctx)
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		journal := db.NewJournal(pool)
		s.journal = journal
		publishers = append(publishers, journal)
	}

	// Step 4: COMMS (optional)
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			s.Shutdown(ctx)
			return nil, fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		s.nc = nc
		slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))
		publishers = append(publishers, events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
			FailureSubject: cfg.FailureEventSubject,
		}))
	}

	// Step 5: Dispatcher
	policy, err := semver.NewVersionPolicy(cfg.VersionConstraint)
	if err != nil {
		s.Shutdown(ctx)
		return nil, fmt.Errorf("%s - invalid version constraint: %w", logPrefix, err)
	}
	s.disp = dispatcher.NewDispatcher(reg, &dispatcher.Options{
		ThreadPool:  s.threads,
		Process:     process,
		Publisher:   events.NewFanOut(publishers...),
		Version:     policy,
		CallTimeout: cfg.CallTimeout,
	})
	slog.Info(fmt.Sprintf("%s - Dispatcher ready (threads=%d, process=%s/%d, version=%s)",
		logPrefix, cfg.ThreadPoolSize, cfg.ProcessMode, cfg.ProcessPoolSize, policy))

	return s, nil
}

// NewProcessExecutor picks the Process lane backend for cfg.ProcessMode. The subprocess
// backend re-executes the running binary with WorkerCommand.
func NewProcessExecutor(cfg *config.Config, reg *registry.Registry) (lanes.ProcessExecutor, error) {
	switch cfg.ProcessMode {
	case config.ProcessModeIsolated:
		return lanes.NewIsolatedExecutor(reg, cfg.ProcessPoolSize), nil
	case config.ProcessModeSubprocess, "":
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%s - failed to locate executable for process lane: %w", logPrefix, err)
		}
		e := lanes.NewSubprocessExecutor(exe, []string{WorkerCommand}, cfg.ProcessPoolSize)
		e.Env = []string{"LOG_LEVEL=" + cfg.LogLevel}
		return e, nil
	default:
		return nil, fmt.Errorf("%s - unknown process mode %q", logPrefix, cfg.ProcessMode)
	}
}

// Dispatcher returns the dispatcher shared by all transports.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.disp
}

// Addr returns the bound JSON-RPC TCP address, or nil when the TCP transport is off.
func (s *Server) Addr() net.Addr {
	return s.tcpAddr
}

// Start opens the configured transports and the HTTP health server.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg

	// Step 6: COMMS request/reply transport
	if s.nc != nil {
		s.rpc = transport.NewCommsServer(s.nc, s.disp, &transport.CommsServerOpts{Subject: cfg.RPCSubject})
		if err := s.rpc.Start(ctx); err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, s.rpc.Subject(), err)
		}
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, s.rpc.Subject()))
	}

	// Step 7: TCP line transport
	if cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, cfg.ListenAddr, err)
		}
		s.tcpAddr = ln.Addr()
		s.tcp = transport.NewTCPServer(s.disp, &transport.TCPServerOpts{MaxLineBytes: cfg.MaxLineBytes})
		go func() {
			if err := s.tcp.Serve(ctx, ln); err != nil && !errors.Is(err, transport.ErrServerClosed) {
				slog.Error(fmt.Sprintf("%s - TCP server error: %v", logPrefix, err))
			}
		}()
		slog.Info(fmt.Sprintf("%s - JSON-RPC listening on %s", logPrefix, ln.Addr()))
	}

	// Step 8: HTTP health server
	if cfg.HTTPPort > 0 {
		httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
		s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
			if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}
	return nil
}

// Shutdown stops transports first so in-flight lines finish, then releases the
// dispatcher's dependencies. Safe to call on a partially built Server.
func (s *Server) Shutdown(ctx context.Context) {
	if s.rpc != nil {
		if err := s.rpc.Stop(); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS server stop: %v", logPrefix, err))
		}
	}
	if s.tcp != nil {
		if err := s.tcp.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - TCP server shutdown: %v", logPrefix, err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP server shutdown: %v", logPrefix, err))
		}
	}
	if s.disp != nil {
		if err := s.disp.Close(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - failure events not delivered: %v", logPrefix, err))
		}
	}
	if s.nc != nil {
		if err := commsutil.Drain(s.nc, commsutil.DefaultDrainTimeout); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Handler returns the HTTP mux serving /health, /ready and /methods.
func (s *Server) Handler() http.Handler {
	healthTimeout := s.cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		h := s.Health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/methods", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.disp.Registry().Methods())
	})
	return mux
}

// RunWorker serves a single Process lane call on stdin/stdout. Logs go to stderr so
// stdout carries only the result frame.
func RunWorker(install InstallFunc) error {
	SetupLogging(os.Stderr, os.Getenv("LOG_LEVEL"))

	reg := registry.NewRegistry()
	if install != nil {
		if err := install(reg); err != nil {
			return fmt.Errorf("%s - failed to install methods: %w", logPrefix, err)
		}
	}
	return lanes.ServeWorker(reg, os.Stdin, os.Stdout)
}
