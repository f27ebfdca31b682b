// Package http assembles the gin router: client-token identity, per-IP
// connection throttling, the monitoring surface and the WebSocket entry.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mkorchagin/pairchat/internal/adapters/signal"
	"github.com/mkorchagin/pairchat/internal/app/orch"
	"github.com/mkorchagin/pairchat/internal/config"
)

// ClientTokenMiddleware assigns each browser a stable anonymous identity.
// The token doubles as the participant id for the whole pairing core.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// ipLimiter throttles new connections per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	rate    rate.Limit
	burst   int
}

type ipEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	ipLimiterCap = 10000
	ipIdleTTL    = time.Minute
)

func newIPLimiter(r rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		entries: make(map[string]*ipEntry),
		rate:    r,
		burst:   burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		if len(l.entries) >= ipLimiterCap {
			l.evictIdle(now)
		}
		e = &ipEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.entries[ip] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.Allow()
}

// evictIdle drops addresses not seen within ipIdleTTL. An active address
// keeps its limiter, and with it every token it has already consumed; if
// everything is active the table grows past the cap rather than refilling
// anyone's bucket. Caller holds l.mu.
func (l *ipLimiter) evictIdle(now time.Time) {
	for ip, e := range l.entries {
		if now.Sub(e.seen) > ipIdleTTL {
			delete(l.entries, ip)
		}
	}
}

func RateLimitMiddleware(l *ipLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PairchatSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(RateLimitMiddleware(newIPLimiter(rate.Limit(5), 10)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Stats())
	})

	ctl := signal.NewController(o)
	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	return r
}
