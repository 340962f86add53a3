package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/barrier"
	"github.com/victornm/trivia/internal/countdown"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/leaderboard"
	"github.com/victornm/trivia/internal/registry"
	"github.com/victornm/trivia/internal/score"
	"github.com/victornm/trivia/internal/session"
	"github.com/victornm/trivia/internal/store/memory"
	"github.com/victornm/trivia/internal/store/postgres"
	"github.com/victornm/trivia/internal/submission"
	"github.com/victornm/trivia/internal/telemetry"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port         int32
		AllowOrigins []string `mapstructure:"allow_origins"`
	}

	GRPC struct {
		Port int32
	}

	Storage struct {
		// Driver is postgres or memory.
		Driver string
		// QuestionsFile is loaded into the memory store, or imported by the migrate command.
		QuestionsFile string `mapstructure:"questions_file"`
	}

	Registry struct {
		// Driver is memory or redis. Running more than one instance requires redis.
		Driver string
	}

	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
		Registry    RedisConfig
	}

	Postgres struct {
		Game PostgresConfig
	}

	Game struct {
		AllowReuse bool `mapstructure:"allow_reuse"`
		Countdown  struct {
			Default       time.Duration
			Lightning     time.Duration
			HalftimeBreak time.Duration `mapstructure:"halftime_break"`
			FinalWager    time.Duration `mapstructure:"final_wager"`
		}
	}
}

func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.HTTP.AllowOrigins = []string{"*"}
	c.GRPC.Port = 8081

	c.Storage.Driver = DriverPostgres
	c.Registry.Driver = DriverMemory

	local := RedisConfig{Addrs: []string{"localhost:6379"}, Prefix: "trivia"}
	c.Redis.Leaderboard = local
	c.Redis.Pubsub = local
	c.Redis.Registry = local

	c.Postgres.Game = PostgresConfig{
		Addr: "localhost:5432",
		User: "postgres",
		Pass: "postgres",
		Name: "trivia",
	}

	c.Game.AllowReuse = true
	c.Game.Countdown.Default = time.Minute
	c.Game.Countdown.Lightning = 20 * time.Second
	c.Game.Countdown.HalftimeBreak = 10 * time.Minute
	c.Game.Countdown.FinalWager = 2 * time.Minute

	return c
}

// gameStore is satisfied by both the memory and the postgres stores.
type gameStore interface {
	session.Store
	session.QuestionStore
	submission.Store
}

type presence interface {
	session.Presence
	barrier.Presence
}

type readySet interface {
	session.ReadySet
	barrier.ReadySet
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
			registry    redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	store    gameStore
	presence presence
	ready    readySet

	hub      *api.Hub
	forward  *api.RedisNotifier
	notifier session.Notifier

	service struct {
		session     *session.Service
		barrier     *barrier.Service
		leaderboard *leaderboard.Service
		countdown   *countdown.Scheduler
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	stop context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initStore(); err != nil {
		return nil, fmt.Errorf("server: init store: %w", err)
	}

	s.initRegistry()
	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.c.Storage.Driver == DriverPostgres {
		db, err := connectPostgres(s.c.Postgres.Game)
		if err != nil {
			return fmt.Errorf("postgres: game: %w", err)
		}
		s.infra.postgres = db
	}

	return nil
}

func (s *Server) initRedis() error {
	var err error
	s.infra.redis.leaderboard, err = connectRedis(s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	// Shared state and fan-out are only needed when instances share the sessions.
	if s.c.Registry.Driver != DriverRedis {
		return nil
	}

	s.infra.redis.pubsub, err = connectRedis(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.redis.registry, err = connectRedis(s.c.Redis.Registry)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	switch s.c.Storage.Driver {
	case DriverPostgres:
		s.store = postgres.NewStore(s.infra.postgres)
		return nil

	case DriverMemory:
		qs, err := loadQuestions(s.c.Storage.QuestionsFile)
		if err != nil {
			return err
		}
		s.store = memory.NewStore(qs)
		slog.Info("server: memory store ready", "questions", len(qs))
		return nil

	default:
		return fmt.Errorf("unknown storage driver %q", s.c.Storage.Driver)
	}
}

func (s *Server) initRegistry() {
	s.hub = api.NewHub()

	if s.c.Registry.Driver == DriverRedis {
		prefix := s.c.Redis.Registry.Prefix
		s.presence = registry.NewRedisRegistry(s.infra.redis.registry, prefix)
		s.ready = registry.NewRedisReadySet(s.infra.redis.registry, prefix)
		s.forward = api.NewRedisNotifier(s.infra.redis.pubsub, s.c.Redis.Pubsub.Prefix, s.hub)
		s.notifier = s.forward
		return
	}

	s.presence = registry.NewMemoryRegistry()
	s.ready = registry.NewMemoryReadySet()
	s.notifier = s.hub
}

func (s *Server) initService() {
	tracker := submission.NewTracker(submission.Config{
		Store:    s.store,
		Presence: s.presence,
	})

	s.service.session = session.NewService(session.Config{
		Store:      s.store,
		Questions:  s.store,
		Presence:   s.presence,
		Ready:      s.ready,
		Tracker:    tracker,
		Scorer:     score.NewService(score.Config{}),
		Notifier:   s.notifier,
		EventBus:   s.eb,
		AllowReuse: s.c.Game.AllowReuse,
	})

	s.service.barrier = barrier.NewService(barrier.Config{
		Session:  s.service.session,
		Tracker:  tracker,
		Presence: s.presence,
		Ready:    s.ready,
		Notifier: s.notifier,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Teams:    s.store,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	cd := s.c.Game.Countdown
	s.service.countdown = countdown.NewScheduler(countdown.Config{
		EventBus: s.eb,
		Expirer:  s.service.barrier,
		Sessions: s.store,
		Durations: countdown.Durations{
			Default:       cd.Default,
			Lightning:     cd.Lightning,
			HalftimeBreak: cd.HalftimeBreak,
			FinalWager:    cd.FinalWager,
		},
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())
	e.Use(cors.New(cors.Config{
		AllowOrigins: s.c.HTTP.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	e.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	api.New(api.Config{
		Router:       e,
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Session:      s.service.session,
		Barrier:      s.service.barrier,
		Leaderboard:  s.service.leaderboard,
		Hub:          s.hub,
		Notifier:     s.notifier,
		AllowOrigins: s.c.HTTP.AllowOrigins,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves gRPC and HTTP until Shutdown is called.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.forward != nil {
		eg.Go(func() error {
			return s.forward.Forward(ctx)
		})
	}

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.stop != nil {
		s.stop()
	}

	s.service.countdown.Stop()
	s.eb.Stop()

	for _, rc := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub, s.infra.redis.registry} {
		if rc != nil {
			_ = rc.Close()
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

// Migrate creates the postgres schema and imports the configured question file.
func Migrate(ctx context.Context, c Config) error {
	db, err := connectPostgres(c.Postgres.Game)
	if err != nil {
		return fmt.Errorf("postgres: game: %w", err)
	}
	defer db.Close()

	store := postgres.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	qs, err := loadQuestions(c.Storage.QuestionsFile)
	if err != nil {
		return err
	}
	if err := store.SaveQuestions(ctx, qs); err != nil {
		return err
	}

	slog.InfoContext(ctx, "server: migrated", "questions", len(qs))
	return nil
}

func loadQuestions(file string) ([]domain.Question, error) {
	if file == "" {
		return nil, nil
	}

	qs, err := memory.LoadQuestionsFile(file)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return qs, nil
}

func connectRedis(c RedisConfig) (redis.UniversalClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return nil, err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return r, nil
}

func connectPostgres(c PostgresConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		return nil, err
	}

	return db, nil
}
