package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"finance_service/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	debugPrefix     = "/api/debug/"
)

// Gate resolves the caller of every non-exempt request before any handler runs.
type Gate struct {
	resolver     *auth.Resolver
	exactExempt  map[string]struct{}
	prefixExempt []string
	legacy       bool
	log          *slog.Logger
}

type GateOption func(*Gate)

// WithLegacyRejection only rejects revoked tokens at the gate. Expired,
// malformed and orphaned tokens continue as anonymous requests.
func WithLegacyRejection() GateOption {
	return func(g *Gate) {
		g.legacy = true
	}
}

// WithDebugExemption lets the debug prefix through without identity resolution.
func WithDebugExemption() GateOption {
	return func(g *Gate) {
		g.prefixExempt = append(g.prefixExempt, debugPrefix)
	}
}

func NewGate(resolver *auth.Resolver, lgr *slog.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		resolver: resolver,
		exactExempt: map[string]struct{}{
			"/api/users/register": {},
			"/api/users/login":    {},
			"/error":              {},
		},
		prefixExempt: []string{"/uploads/"},
		log:          lgr,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *Gate) IsExempt(path string) bool {
	if _, ok := g.exactExempt[path]; ok {
		return true
	}
	for _, prefix := range g.prefixExempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "handler.Gate"

		if g.IsExempt(c.Request.URL.Path) {
			c.Next()

			return
		}

		log := g.log.With(slog.String("op", op), slog.String("path", c.Request.URL.Path))

		token := auth.TokenFromHeader(c.GetHeader("Authorization"))

		identity, err := g.resolver.Resolve(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), identity))
		case errors.Is(err, auth.ErrUnauthenticated):
		case errors.Is(err, auth.ErrTokenRevoked):
			newErrorResponse(c, http.StatusUnauthorized, "unauthorized")

			return
		case g.legacy:
			log.Debug("continuing without identity", slog.Any("error", err))
		case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrUserUnavailable):
			newErrorResponse(c, http.StatusUnauthorized, "unauthorized")

			return
		default:
			log.Error("failed to resolve identity", slog.Any("error", err))

			newErrorResponse(c, http.StatusInternalServerError, "internal error")

			return
		}

		c.Next()
	}
}

// CurrentIdentity returns the caller resolved by the gate, or nil.
func CurrentIdentity(c *gin.Context) *auth.Identity {
	return auth.IdentityFromContext(c.Request.Context())
}

// ValidateUserAccess reports whether the caller may act on pathUserID.
func ValidateUserAccess(c *gin.Context, pathUserID int64) bool {
	return auth.ValidateUserAccess(pathUserID, CurrentIdentity(c))
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set("RequestID", id)
		c.Header(requestIDHeader, id)

		c.Next()
	}
}

func requestLogger(lgr *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		lgr.Info("request",
			slog.String("request_id", c.GetString("RequestID")),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
