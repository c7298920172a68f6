package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hauvo5999/real-time-quiz/internal/api"
	"github.com/hauvo5999/real-time-quiz/internal/catalog"
	"github.com/hauvo5999/real-time-quiz/internal/event"
	"github.com/hauvo5999/real-time-quiz/internal/fanout"
	"github.com/hauvo5999/real-time-quiz/internal/identity"
	"github.com/hauvo5999/real-time-quiz/internal/leaderboard"
	"github.com/hauvo5999/real-time-quiz/internal/live"
	"github.com/hauvo5999/real-time-quiz/internal/registry"
	"github.com/hauvo5999/real-time-quiz/internal/state"
	"github.com/hauvo5999/real-time-quiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		State struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Catalog struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Session struct {
		TTL time.Duration
	}
}

func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.Session.TTL = state.DefaultTTL
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			state  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres struct {
			catalog *pgxpool.Pool
		}
	}

	service struct {
		registry    *registry.Registry
		state       *state.Store
		leaderboard *leaderboard.Service
		fanout      *fanout.Channel
		catalog     *catalog.Service
		identity    *identity.Service
		live        *live.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.state, err = connect(s.c.Redis.State.Addrs, s.c.Redis.State.Pass)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Catalog
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	s.infra.postgres.catalog = db
	return nil
}

func (s *Server) initService() {
	s.service.registry = registry.New()

	s.service.state = state.New(state.Config{
		Redis:  s.infra.redis.state,
		Prefix: s.c.Redis.State.Prefix,
		TTL:    s.c.Session.TTL,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		State:    s.service.state,
		Registry: s.service.registry,
	})

	s.service.fanout = fanout.New(fanout.Config{
		Redis:    s.infra.redis.pubsub,
		Prefix:   s.c.Redis.Pubsub.Prefix,
		Registry: s.service.registry,
	})

	s.service.catalog = catalog.NewService(catalog.Config{
		DB: s.infra.postgres.catalog,
	})

	s.service.identity = identity.NewService(identity.Config{
		DB: s.infra.postgres.catalog,
	})

	s.service.live = live.NewService(live.Config{
		EventBus:    s.eb,
		Registry:    s.service.registry,
		State:       s.service.state,
		Leaderboard: s.service.leaderboard,
		Fanout:      s.service.fanout,
		Catalog:     s.service.catalog,
		Identity:    s.service.identity,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), requestLogger())

	api.New(api.Config{
		Router:      e,
		Catalog:     s.service.catalog,
		Identity:    s.service.identity,
		Leaderboard: s.service.leaderboard,
		Live:        s.service.live,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.InfoContext(c.Request.Context(), "http: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.fanout.Close()
	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
