package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/cache"
	"academy/internal/checkin"
	"academy/internal/config"
	"academy/internal/faceclient"
	"academy/internal/handler"
	"academy/internal/httpmiddleware"
	"academy/internal/metrics"
	"academy/internal/photos"
	"academy/internal/queue"
	"academy/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("invalid REDIS_ADDR: %v", err)
	}
	defer redisClient.Close()

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Println("memory queue: pattern refresh jobs stay in this process and are dropped when full")
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, "")
	}

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)
	repo := attendance.NewRepository(db.Client, cfg.OrganizationID)
	subs := cache.NewSubscriptions(repo, redisClient.Client, cfg.SubscriptionTTL, rec)
	evaluator := checkin.NewEvaluator(subs, repo, repo, checkin.Offsets{
		OpensBefore: cfg.CheckInOpensBefore,
		ClosesAfter: cfg.CheckInClosesAfter,
	})

	checks := map[string]handler.HealthCheck{
		"db":    func(c *gin.Context) bool { return db.Healthy(c.Request.Context()) },
		"redis": func(c *gin.Context) bool { return redisClient.Healthy(c.Request.Context()) },
	}

	var face attendance.FaceVerifier
	if cfg.FaceServiceURL != "" {
		fc := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
		if !cfg.FaceSkip {
			checks["face"] = func(c *gin.Context) bool { return fc.Health(c.Request.Context()) == nil }
		}
		face = fc
	}
	svc := attendance.NewService(repo, evaluator, face, jobs, rec, cfg.Location()).WithSubscriptionCache(subs)

	issuer := auth.Issuer{
		Name:       cfg.JWTIssuer,
		Key:        []byte(cfg.JWTSigningKey),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Provisioning-Key"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Kiosks are limited per token subject, anonymous callers per IP.
	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, func(c *gin.Context) string {
		if claims, ok := auth.FromContext(c); ok {
			return claims.Subject
		}
		return ""
	})
	go sweep(ctx, limiter)

	h := handler.New(svc, issuer, cfg.OrganizationID, checks).WithProvisioningKey(cfg.KioskProvisioningKey)
	if cdn := photos.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); cdn != nil {
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
		h.WithPhotos(cdn)
	} else {
		log.Println("Cloudinary not configured, photo uploads disabled")
	}
	h.Register(r, limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func sweep(ctx context.Context, limiter *httpmiddleware.TokenBucket) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(10 * time.Minute)
		}
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
