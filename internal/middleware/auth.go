package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/services"
)

type contextKey string

const callerIDKey contextKey = "callerID"

// defaultRevocationTTL applies to tokens that carry no exp claim.
const defaultRevocationTTL = 24 * time.Hour

var (
	ErrMissingToken = errors.New("authorization header required")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Authenticator validates HS256 bearer tokens. Revoked tokens are kept in
// Redis under blacklist:<token>; without Redis revocation is disabled.
type Authenticator struct {
	secret []byte
	redis  *redis.Client
	logger *zap.Logger
}

func NewAuthenticator(secret string, redisClient *redis.Client, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		secret: []byte(secret),
		redis:  redisClient,
		logger: logger.With(zap.String("component", "auth")),
	}
}

// CallerID returns the user_id claim of the authenticated caller.
func CallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerIDKey).(string)
	return id, ok && id != ""
}

// WithCallerID is used by tests and internal callers to attach an identity.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			services.SendErrorResponse(w, err.Error(), http.StatusUnauthorized, nil)
			return
		}

		userID, err := a.validateToken(r.Context(), token)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCallerID(r.Context(), userID)))
	})
}

// Revoke blacklists the bearer token of r until it would have expired.
func (a *Authenticator) Revoke(r *http.Request) error {
	token, err := bearerToken(r)
	if err != nil {
		return err
	}
	if a.redis == nil {
		return nil
	}

	ttl := defaultRevocationTTL
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			ttl = time.Until(exp.Time)
		}
	}
	if ttl <= 0 {
		return nil
	}

	if err := a.redis.Set(r.Context(), blacklistKey(token), "1", ttl).Err(); err != nil {
		a.logger.Error("failed to blacklist token", zap.Error(err))
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (a *Authenticator) validateToken(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID := fmt.Sprintf("%v", claims["user_id"])
	if claims["user_id"] == nil || userID == "" {
		return "", fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}

	if a.redis != nil {
		revoked, err := a.redis.Exists(ctx, blacklistKey(tokenString)).Result()
		if err != nil {
			// Fail open when Redis is unreachable.
			a.logger.Warn("blacklist lookup failed", zap.Error(err))
		} else if revoked > 0 {
			return "", ErrTokenRevoked
		}
	}
	return userID, nil
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func blacklistKey(token string) string {
	return "blacklist:" + token
}
