package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type window struct {
	count int
	start time.Time
}

// RateLimiter caps requests per client IP over a fixed window. Chat and
// ingestion endpoints both sit behind it; websocket upgrades are exempt so a
// progress stream is never cut off mid-run.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	max      int
	duration time.Duration
	logger   *zap.Logger
	stop     chan struct{}
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}

	rl := &RateLimiter{
		windows:  make(map[string]*window),
		max:      cfg.MaxRequestsPerMinute,
		duration: cfg.WindowDuration,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
	}

	go rl.sweep()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}

		if !rl.allow(c.IP()) {
			if rl.logger != nil {
				rl.logger.Warn("Rate limit exceeded",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
				)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.duration {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}

	if w.count >= rl.max {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.duration)
			rl.mu.Lock()
			for key, w := range rl.windows {
				if w.start.Before(cutoff) {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	close(rl.stop)
}
