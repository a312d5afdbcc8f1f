package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	apppkg "github.com/deskhive/deskhive-go/cmd/api/app"
	authpkg "github.com/deskhive/deskhive-go/cmd/api/auth"
	commentspkg "github.com/deskhive/deskhive-go/cmd/api/comments"
	metricspkg "github.com/deskhive/deskhive-go/cmd/api/metrics"
	slaspkg "github.com/deskhive/deskhive-go/cmd/api/slas"
	ticketspkg "github.com/deskhive/deskhive-go/cmd/api/tickets"
	"github.com/deskhive/deskhive-go/internal/ratelimit"
	slapkg "github.com/deskhive/deskhive-go/internal/sla"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	_ = godotenv.Load()
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	// Migrate (embedded goose) using pgx stdlib driver
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("goose dialect")
	}
	sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("sql open for goose")
	}
	if err := goose.UpContext(ctx, sqldb, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}
	_ = sqldb.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	if cfg.Env == "dev" {
		if err := seedLocalAdmin(ctx, pool, cfg.AdminPassword); err != nil {
			log.Error().Err(err).Msg("seed local admin")
		}
	}

	store := slapkg.NewPgStore(pool)
	clock := slapkg.NewClock(store)
	fixer := slapkg.NewReconciler(store, clock)

	a := apppkg.NewApp(cfg, pool, clock, fixer, rdb)
	routes(a, rdb)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

func routes(a *apppkg.App, rdb *redis.Client) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	a.R.GET("/metrics", metricspkg.Handler())

	loginLimit := ratelimit.New(rdb, 10, time.Minute, "login")
	a.R.POST("/login", loginLimit.Middleware(ratelimit.ByIP), authpkg.Login(a))
	a.R.POST("/logout", authpkg.Logout())

	auth := a.R.Group("/")
	auth.Use(authpkg.Middleware(a))
	auth.GET("/me", authpkg.Me)

	auth.GET("/tickets", ticketspkg.List(a))
	auth.POST("/tickets", ticketspkg.Create(a))
	auth.GET("/tickets/:id", ticketspkg.Get(a))
	auth.PATCH("/tickets/:id", authpkg.RequireRole("agent"), ticketspkg.Update(a))
	auth.GET("/tickets/:id/comments", commentspkg.List(a))
	auth.POST("/tickets/:id/comments", commentspkg.Add(a))

	auth.GET("/slas", slaspkg.List(a))
	auth.GET("/tickets/:id/sla", slaspkg.Status(a))
	auth.POST("/tickets/:id/sla/pause", authpkg.RequireRole("agent"), slaspkg.Pause(a))
	auth.POST("/tickets/:id/sla/resume", authpkg.RequireRole("agent"), slaspkg.Resume(a))
	auth.POST("/tickets/:id/sla/recompute", authpkg.RequireRole("agent"), slaspkg.Recompute(a))

	// Sweeps are idempotent but heavy; keep callers from hammering them.
	sweepLimit := ratelimit.New(rdb, 6, time.Minute, "sweep")
	admin := auth.Group("/admin")
	admin.Use(authpkg.RequireRole("admin"), sweepLimit.Middleware(ratelimit.ByIP))
	admin.POST("/sla/fix-breaches", slaspkg.FixBreaches(a))
	admin.POST("/sla/missed-first-responses", slaspkg.MissedFirstResponses(a))
}

func seedLocalAdmin(ctx context.Context, db *pgxpool.Pool, password string) error {
	var exists bool
	if err := db.QueryRow(ctx, "select exists(select 1 from users where lower(email)='admin@example.com')").Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	var uid string
	if err := db.QueryRow(ctx,
		"insert into users (email, display_name, password_hash) values ('admin@example.com', 'Admin', $1) returning id::text",
		string(hash)).Scan(&uid); err != nil {
		return err
	}
	_, _ = db.Exec(ctx, `insert into user_roles (user_id, role_id)
      select $1, r.id from roles r where r.name in ('admin','agent') on conflict do nothing`, uid)
	log.Info().Str("email", "admin@example.com").Msg("seeded local admin user (dev)")
	return nil
}
