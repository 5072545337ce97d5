package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"academy/internal/attendance"
	"academy/internal/config"
	"academy/internal/queue"
	"academy/internal/store"
)

// Worker rebuilds attendance patterns from queued refresh requests and
// schedules a nightly refresh for recently active students.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("invalid REDIS_ADDR: %v", err)
	}
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	repo := attendance.NewRepository(db.Client, cfg.OrganizationID)
	refresher := attendance.NewPatternRefresher(repo, cfg.Location())

	sched := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := sched.AddFunc(cfg.PatternCron, func() {
		n, err := refresher.EnqueueActive(ctx, q, 24*time.Hour)
		if err != nil {
			log.Printf("nightly pattern enqueue failed after %d students: %v", n, err)
			return
		}
		log.Printf("queued pattern refresh for %d students", n)
	}); err != nil {
		log.Fatalf("invalid PATTERN_CRON %q: %v", cfg.PatternCron, err)
	}
	sched.Start()
	defer sched.Stop()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Kind != queue.KindPatternRefresh || msg.StudentID == "" {
			continue
		}
		p, err := refresher.Refresh(ctx, msg.StudentID)
		if err != nil {
			log.Printf("pattern refresh for %s failed: %v", msg.StudentID, err)
			continue
		}
		log.Printf("pattern for %s: rate %.1f%%, trend %s", p.StudentID, p.AttendanceRate, p.RecentTrend)
	}

	log.Println("worker stopped")
}
