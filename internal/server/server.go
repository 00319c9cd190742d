package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/itstheanurag/grader/internal/api"
	"github.com/itstheanurag/grader/internal/assembler"
	"github.com/itstheanurag/grader/internal/config"
	"github.com/itstheanurag/grader/internal/database"
	"github.com/itstheanurag/grader/internal/executor"
	"github.com/itstheanurag/grader/internal/grader"
	"github.com/itstheanurag/grader/internal/languages"
	"github.com/itstheanurag/grader/internal/limiter"
	"github.com/itstheanurag/grader/internal/notify"
	"github.com/itstheanurag/grader/internal/problems"
	"github.com/itstheanurag/grader/internal/queue"
	"github.com/itstheanurag/grader/internal/results"
	"github.com/itstheanurag/grader/internal/sandbox"
	"github.com/itstheanurag/grader/internal/worker"
)

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	db          *database.Database
	results     *results.Store
	nc          *nats.Conn
	lang        languages.Language
	sandbox     sandbox.Sandbox
	closers     []io.Closer
	queue       *queue.Manager
	workers     []*worker.Worker
	rateLimiter *limiter.RateLimiter
	cancelFunc  context.CancelFunc
}

func New(
	ctx context.Context,
	conf *config.Config,
	logger *zerolog.Logger,
) (_ *Server, err error) {
	s := &Server{conf: conf, logger: logger}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	lang, err := Language(conf)
	if err != nil {
		return nil, err
	}
	s.lang = lang

	sb, err := NewSandbox(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	if c, ok := sb.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	s.sandbox = sandbox.NewPool(sb, conf.Sandbox.Slots)

	store, err := Problems(conf, logger)
	if err != nil {
		return nil, err
	}

	exec := executor.NewExecutor(lang, s.sandbox, Limits(conf), logger)
	svc := grader.NewService(grader.New(assembler.New(lang.Config.DefinitionKeyword), exec, logger), store, logger)

	var (
		recorder  worker.Recorder
		publisher worker.Publisher
		reader    api.RecordReader
	)
	if conf.Db.Enabled {
		db, err := database.New(ctx, conf, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		s.db = db
		rs, err := results.NewStore(db.Pool)
		if err != nil {
			return nil, err
		}
		s.results = rs
		recorder, reader = rs, rs
	}
	if conf.Nats.URL != "" {
		nc, err := notify.Connect(conf.Nats.URL, logger)
		if err != nil {
			return nil, err
		}
		s.nc = nc
		publisher = notify.NewPublisher(nc, conf.Nats.Subject)
	}

	s.queue = queue.NewManager(conf.Workers.QueueCapacity)
	s.workers = make([]*worker.Worker, conf.Workers.Count)
	for i := range s.workers {
		s.workers[i] = worker.NewWorker(i, svc, s.queue, recorder, publisher, logger)
	}

	s.rateLimiter = limiter.NewRateLimiter(
		conf.Limits.GlobalRPS,
		conf.Limits.PerIPRPS,
		conf.Limits.PerIPBurst,
		conf.Limits.MaxConcurrent,
	)
	if err := s.rateLimiter.TrustProxies(conf.Limits.TrustedProxies); err != nil {
		return nil, err
	}

	handler := api.NewHandler(s.queue, reader, api.Options{WallTimeout: conf.Sandbox.WallTimeout()}, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.Register(mux, s.rateLimiter.Middleware)

	s.httpServer = &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      mux,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	return s, nil
}

// Language resolves the runtime, applying the interpreter and image
// overrides from conf.
func Language(conf *config.Config) (languages.Language, error) {
	lang, err := languages.NewRegistry().Get(languages.Python)
	if err != nil {
		return languages.Language{}, err
	}
	lang = lang.WithInterpreter(conf.Sandbox.Python)
	if conf.Sandbox.Image != "" {
		lang.Config.Image = conf.Sandbox.Image
	}
	return lang, nil
}

func NewSandbox(conf *config.Config, logger *zerolog.Logger) (sandbox.Sandbox, error) {
	switch conf.Sandbox.Driver {
	case config.DriverDocker:
		sb, err := sandbox.NewDockerSandbox(logger)
		if err != nil {
			return nil, err
		}
		return sb, nil
	case config.DriverProcess:
		sb, err := sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			ScratchRoot: conf.Sandbox.ScratchRoot,
			CgroupRoot:  conf.Sandbox.CgroupRoot,
		}, logger)
		if err != nil {
			return nil, err
		}
		return sb, nil
	default:
		return nil, fmt.Errorf("unknown sandbox driver %q", conf.Sandbox.Driver)
	}
}

func Limits(conf *config.Config) sandbox.Limits {
	return sandbox.Limits{
		WallTime:       conf.Sandbox.WallTimeout(),
		CPUTime:        conf.Sandbox.CPUTime(),
		MemoryLimitKb:  conf.Sandbox.MemoryMB * 1024,
		MaxOutputBytes: conf.Sandbox.MaxOutputBytes,
		MaxProcesses:   conf.Sandbox.MaxProcesses,
	}.WithDefaults()
}

// Problems loads the built-in problems plus any from the configured
// directory.
func Problems(conf *config.Config, logger *zerolog.Logger) (*problems.Registry, error) {
	store, err := problems.NewBuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in problems: %w", err)
	}
	if conf.Problems.Dir != "" {
		n, err := store.LoadDir(conf.Problems.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load problems: %w", err)
		}
		logger.Info().Int("added", n).Str("dir", conf.Problems.Dir).Msg("loaded problem files")
	}
	logger.Info().Strs("problems", store.Names()).Msg("problem store ready")
	return store, nil
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Str("driver", s.conf.Sandbox.Driver).
		Msg("starting HTTP server")

	if err := s.prepare(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	s.rateLimiter.StartCleanup(ctx, 5*time.Minute)
	for _, w := range s.workers {
		go w.Start(ctx)
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// prepare checks the runtime and the schema concurrently.
func (s *Server) prepare(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.sandbox.EnsureRuntime(gctx, s.lang); err != nil {
			return fmt.Errorf("failed to ensure runtime: %w", err)
		}
		return nil
	})
	if s.db != nil {
		g.Go(func() error {
			return s.db.EnsureSchema(gctx)
		})
	}
	return g.Wait()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.closeResources()

	return nil
}

func (s *Server) closeResources() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain nats connection")
		}
	}
	if s.results != nil {
		s.results.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close sandbox client")
		}
	}
}
