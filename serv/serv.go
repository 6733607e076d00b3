package serv

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/querygate/querygate/discover"
	"github.com/querygate/querygate/executor"
	"github.com/querygate/querygate/request"
	"github.com/querygate/querygate/script"
	"github.com/querygate/querygate/serv/internal/util"
)

var version string

const (
	serverName         = "QueryGate"
	defaultHP          = "0.0.0.0:8080"
	defaultPingTimeout = 5 * time.Second
)

// Service is the HTTP front of the approval workflow.
type Service struct {
	conf     *Config
	zlog     *zap.Logger
	log      *zap.SugaredLogger
	pool     *pgxpool.Pool
	store    request.Store
	registry *confRegistry
	disc     *discover.Discoverer
	requests *request.Service
	srv      *http.Server
}

// NewService assembles the service from its configuration. The request store
// is Postgres when database.connection_string is set, in-memory otherwise.
func NewService(ctx context.Context, conf *Config) (*Service, error) {
	zlog := util.NewLogger(conf.ShouldUseJSONLogs(), util.ParseLevel(conf.LogLevel))
	log := zlog.Sugar()

	registry, err := newConfRegistry(conf.Instances)
	if err != nil {
		return nil, fmt.Errorf("instance registry: %w", err)
	}

	s := &Service{
		conf:     conf,
		zlog:     zlog,
		log:      log,
		registry: registry,
	}

	if conf.DB.ConnString != "" {
		pcfg, err := pgxpool.ParseConfig(conf.DB.ConnString)
		if err != nil {
			return nil, fmt.Errorf("store config: %w", err)
		}
		if conf.DB.PoolSize > 0 {
			pcfg.MaxConns = int32(conf.DB.PoolSize)
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("store pool: %w", err)
		}
		s.pool = pool
		s.store = request.NewPgStore(pool)
	} else {
		log.Warn("no store database configured, using in-memory request store")
		s.store = request.NewMemStore()
	}

	discOpts := []discover.Option{}
	if conf.Discovery.CacheTTL > 0 {
		discOpts = append(discOpts, discover.WithTTL(conf.Discovery.CacheTTL))
	}
	s.disc = discover.New(log, discOpts...)

	runnerOpts := []script.Option{}
	if conf.Script.Command != "" {
		runnerOpts = append(runnerOpts, script.WithCommand(conf.Script.Command))
	}
	if conf.Script.Timeout > 0 {
		runnerOpts = append(runnerOpts, script.WithTimeout(conf.Script.Timeout))
	}
	if conf.Script.Dir != "" {
		runnerOpts = append(runnerOpts, script.WithFs(afero.NewOsFs(), conf.Script.Dir))
	}
	runner := script.NewRunner(log, runnerOpts...)

	execFn := func(connString string) (request.StatementExecutor, error) {
		return executor.FromConnString(connString, log)
	}

	s.requests = request.NewService(s.store, registry, execFn, runner, log)
	return s, nil
}

// Migrate creates the request store tables. A no-op for the in-memory store.
func (s *Service) Migrate(ctx context.Context) error {
	pg, ok := s.store.(*request.PgStore)
	if !ok {
		return nil
	}
	return pg.Migrate(ctx)
}

// Start runs the HTTP server until an interrupt arrives, then shuts down
// gracefully.
func (s *Service) Start() error {
	if s.conf.Auth.Development {
		s.log.Warn("api: auth.development=true this allows clients to bypass authentication")
	}

	r := chi.NewRouter()
	routes, err := s.routesHandler(r)
	if err != nil {
		return fmt.Errorf("error setting up routes: %w", err)
	}

	hostPort := s.conf.hostPort()
	s.srv = &http.Server{
		Addr:              hostPort,
		Handler:           routes,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		if err := s.srv.Shutdown(context.Background()); err != nil {
			s.log.Warn("shutdown signal received")
		}
		close(idleConnsClosed)
	}()

	s.srv.RegisterOnShutdown(func() {
		s.disc.ClearCache()
		if s.pool != nil {
			s.pool.Close()
			s.log.Info("closed request store connection")
		}
		s.log.Info("shutdown complete")
	})

	ver := version
	if ver == "" {
		ver = "not-set"
	}

	s.zlog.Info("QueryGate started",
		zap.String("version", ver),
		zap.String("host-port", hostPort),
		zap.String("app-name", s.conf.AppName),
		zap.String("env", os.Getenv("GO_ENV")),
		zap.Bool("production", s.conf.Production),
		zap.Int("instances", len(s.conf.Instances)),
	)
	printDevModeInfo(s.conf)

	l, err := net.Listen("tcp", hostPort)
	if err != nil {
		return fmt.Errorf("failed to init port: %w", err)
	}

	if err := s.srv.Serve(l); err != http.ErrServerClosed {
		return fmt.Errorf("failed to start: %w", err)
	}
	<-idleConnsClosed
	return nil
}

// Set the server header
func setServerHeader(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverName)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// printDevModeInfo prints useful development information on startup
func printDevModeInfo(conf *Config) {
	if conf.Production {
		return
	}

	// Convert 0.0.0.0 to localhost for display
	displayHost := conf.hostPort()
	if strings.HasPrefix(displayHost, "0.0.0.0:") {
		displayHost = "localhost" + displayHost[7:]
	}

	fmt.Println()
	fmt.Println("Development Server URLs")
	fmt.Println("───────────────────────")
	fmt.Printf("  Requests:    http://%s/api/v1/requests\n", displayHost)
	fmt.Printf("  Instances:   http://%s/api/v1/instances\n", displayHost)
	fmt.Printf("  Health:      http://%s/health\n", displayHost)
	fmt.Println()
}
