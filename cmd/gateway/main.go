package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	api "github.com/mind-engage/peergrade/internal/api/http"
	"github.com/mind-engage/peergrade/internal/auth"
	"github.com/mind-engage/peergrade/internal/config"
	"github.com/mind-engage/peergrade/internal/db"
	"github.com/mind-engage/peergrade/internal/peer"
	"github.com/mind-engage/peergrade/internal/selfassess"
	"github.com/mind-engage/peergrade/internal/submission"
	"github.com/mind-engage/peergrade/internal/workflow"
)

func main() {
	cfg := config.FromEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}

	subs := submission.NewSQLStore(dbh)
	peers := peer.NewService(peer.NewSQLStore(dbh), subs, logger, time.Now)
	self := selfassess.NewService(selfassess.NewSQLStore(dbh), subs, logger, time.Now)
	flow := workflow.NewService(peers, self)

	// --- Auth (local JWT; the embedding LMS replaces this in production) ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)
	hashes := auth.PassHashes{
		"learner": cfg.LearnerPassHash,
		"staff":   cfg.StaffPassHash,
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, hashes))

	a := api.NewAPI(peers, self, flow, subs, peer.Requirements{
		MustGrade:             cfg.MustGrade,
		MustBeGradedBy:        cfg.MustBeGradedBy,
		EnableFlexibleGrading: cfg.EnableFlexibleGrading,
	})
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		a.Mount(pr)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	logger.Info("listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("mode", string(cfg.Mode)),
		zap.String("db", cfg.DBDriver))
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
