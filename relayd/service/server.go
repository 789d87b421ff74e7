package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-appsec/relay/relayd/config"
	"github.com/go-appsec/relay/relayd/service/proxy"
	"github.com/go-appsec/relay/relayd/service/replay"
	"github.com/go-appsec/relay/relayd/service/store"
)

const shutdownTimeout = 10 * time.Second

// ServerFlags carries CLI overrides for the serve command.
type ServerFlags struct {
	Port       int // 0 means use config
	ConfigPath string
}

// Server is the relayd HTTP service.
type Server struct {
	cfg        *config.Config
	configPath string
	flagPort   int

	// Shared in-memory state.
	tasks      *store.Expiring[store.WorkItem]
	results    *store.Expiring[store.ResultItem]
	ips        *store.Expiring[string]
	captures   *store.CaptureStore
	recordings *store.RecordingStore
	bindings   *store.BindingStore

	// Components.
	relay    *Relay
	proxy    *proxy.Engine
	replayer *replay.Engine
	sweeper  *store.Sweeper

	httpServer *http.Server
	started    chan struct{}
	startedAt  time.Time

	// Health metrics providers.
	mu             sync.RWMutex
	metricProvider map[string]HealthMetricProvider

	// Shutdown coordination.
	shutdownCh chan struct{}
	shutdownMu sync.Once
}

// NewServer creates a server instance. Components are wired when Run
// loads the config.
func NewServer(flags ServerFlags) *Server {
	s := &Server{
		configPath:     flags.ConfigPath,
		flagPort:       flags.Port,
		tasks:          store.NewTaskStore(),
		results:        store.NewResultStore(),
		ips:            store.NewIPStore(),
		captures:       store.NewCaptureStore(),
		recordings:     store.NewRecordingStore(),
		bindings:       store.NewBindingStore(),
		started:        make(chan struct{}),
		metricProvider: make(map[string]HealthMetricProvider),
		shutdownCh:     make(chan struct{}),
	}

	// Recording eviction cascades through bindings so no binding ever
	// points at a recording that no longer exists.
	s.recordings.OnEvict(func(id string, _ store.Recording) {
		s.bindings.RemoveByRecording(id)
	})

	s.RegisterHealthMetric("tasks", func() string { return strconv.Itoa(s.tasks.Len()) })
	s.RegisterHealthMetric("results", func() string { return strconv.Itoa(s.results.Len()) })
	s.RegisterHealthMetric("captures", func() string { return strconv.Itoa(s.captures.Len()) })
	s.RegisterHealthMetric("recordings", func() string { return strconv.Itoa(s.recordings.Len()) })
	s.RegisterHealthMetric("bindings", func() string { return strconv.Itoa(s.bindings.Len()) })

	return s
}

// WaitTillStarted blocks until the server has started.
func (s *Server) WaitTillStarted() {
	<-s.started
}

// Run starts the relay service and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("relayd starting (version=%s-%s)", config.Version, config.RevNum)

	if err := s.loadConfig(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	s.initComponents()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.sweeper.Start()

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.startedAt = time.Now()
	close(s.started)
	log.Printf("relayd listening on http://%s", addr)

	select {
	case <-ctx.Done():
		log.Printf("context cancelled, initiating shutdown")
	case sig := <-sigCh:
		log.Printf("received signal %v, initiating shutdown", sig)
	case <-s.shutdownCh:
		log.Printf("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown: stop accepting requests, wait
// for in-flight replays, stop the sweeper.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("http server shutdown error: %v", err)
		}
	}

	s.relay.Wait()
	s.sweeper.Stop()

	log.Printf("relayd stopped")
	return nil
}

// RequestShutdown initiates server shutdown.
func (s *Server) RequestShutdown() {
	s.shutdownMu.Do(func() { close(s.shutdownCh) })
}

// RegisterHealthMetric registers a health metric provider for the given key.
func (s *Server) RegisterHealthMetric(key string, provider HealthMetricProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricProvider[key] = provider
}

// loadConfig resolves the config path and loads or creates the file.
// Precedence: CLI flags > environment > config file > defaults.
func (s *Server) loadConfig() error {
	if s.configPath == "" {
		s.configPath = config.DefaultPath()
	}

	cfg, err := config.LoadOrCreatePath(s.configPath)
	if err != nil {
		return err
	}
	if s.flagPort != 0 {
		cfg.Port = s.flagPort
	}

	s.cfg = cfg
	return nil
}

// initComponents wires the proxy, replay engine, relay, and sweeper
// over the shared stores. Requires cfg to be set.
func (s *Server) initComponents() {
	s.proxy = proxy.NewEngine(proxy.Config{
		AllowedDomain:   s.cfg.AllowedDomain,
		PublicBaseURL:   s.cfg.PublicBaseURL,
		CanonicalOrigin: s.cfg.CanonicalOrigin,
		UserAgent:       s.cfg.UserAgent,
		Origin:          s.cfg.Origin,
		Referer:         s.cfg.Referer,
	}, s.captures, s.ips)

	s.replayer = replay.NewEngine(replay.Config{
		MediaHost: s.cfg.MediaHost,
	}, s.captures, s.recordings, s.bindings)

	s.relay = NewRelay(s.tasks, s.results, s.ips, s.bindings, s.recordings, s.replayer)

	s.sweeper = store.NewSweeper(store.DefaultSweepInterval)
	s.sweeper.Register("tasks", store.RelayMaxAge, s.tasks)
	s.sweeper.Register("results", store.RelayMaxAge, s.results)
	s.sweeper.Register("ips", store.RelayMaxAge, s.ips)
	s.sweeper.Register("captures", store.CaptureMaxAge, s.captures)
	s.sweeper.Register("recordings", store.RecordingMaxAge, s.recordings)
	s.sweeper.Register("bindings", store.RecordingMaxAge, s.bindings)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	metrics := make(map[string]string, len(s.metricProvider))
	for key, provider := range s.metricProvider {
		metrics[key] = provider()
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, HealthResponse{
		Version:   config.Version + "-" + config.RevNum,
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
		Metrics:   metrics,
	})
}
