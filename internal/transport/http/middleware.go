package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const identityKey = "identity"

// Claims is the token payload issued by the identity provider. Subject carries the user id.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 token and returns the caller it asserts.
func ParseToken(raw, secret string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Identity{}, errors.New("token has no subject")
	}
	return domain.Identity{UserID: claims.Subject, DisplayName: claims.Name}, nil
}

// extractToken reads the token from the query string first, which is how browsers
// authenticate the websocket, then from the Authorization header.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// Authenticate rejects requests without a valid token and stores the caller's identity.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c)
		if raw == "" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required", nil)
			return
		}
		id, err := ParseToken(raw, secret)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token", nil)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) domain.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(domain.Identity)
	return id
}

// RequestLogger logs one line per request with a level chosen by status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", kv...)
		case status >= http.StatusBadRequest:
			log.Warn("request", kv...)
		default:
			log.Info("request", kv...)
		}
	}
}

// IPRateLimiter throttles each client IP with a token bucket. Idle visitors are
// dropped by a background sweep.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows perMinute requests per IP. The sweep stops with ctx.
func NewIPRateLimiter(ctx context.Context, perMinute int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	l := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     3 * time.Minute,
	}
	go l.cleanup(ctx)
	return l
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (l *IPRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if time.Since(v.lastSeen) > l.idle {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			abortWith(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later", nil)
			return
		}
		c.Next()
	}
}

// SubmissionLimiter is a counter shared by every instance, keyed per user.
type SubmissionLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LimitSubmissions throttles quiz submissions per user. A limiter outage lets the
// request through.
func LimitSubmissions(limiter SubmissionLimiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ok, err := limiter.Allow(c.Request.Context(), "submit:"+identity(c).UserID)
		if err != nil {
			log.Warn("submission limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !ok {
			abortWith(c, http.StatusTooManyRequests, "TOO_MANY_SUBMISSIONS", "Too many quiz submissions, please slow down", nil)
			return
		}
		c.Next()
	}
}
