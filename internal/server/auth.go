package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"reviewline/internal/domain"
	"reviewline/internal/engine"
)

// Permissions carried in the JWT permissions claim.
const (
	PermReview        = "themes.review"
	PermReviewFlagged = "themes.review.flagged"
	PermSubmit        = "themes.submit"
	PermAdmin         = "themes.admin"
)

type AuthConfig struct {
	JWTSecret string
	// AllowDevLogin exposes /auth/dev/login, which mints tokens for any
	// subject. Local use only.
	AllowDevLogin bool
	TokenTTL      time.Duration
}

type Principal struct {
	ReviewerID  string
	Email       string
	Permissions []string
	// Source is "jwt" or "api_key".
	Source string
}

func (p Principal) Reviewer() domain.Reviewer {
	return domain.Reviewer{ID: p.ReviewerID, Email: p.Email}
}

// ForbiddenError reports a missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p.ReviewerID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requirePermission returns the caller when they hold perm.
func requirePermission(ctx context.Context, perm string) (Principal, error) {
	p, authErr := principalFromContext(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if !hasPermission(p.Permissions, perm) && !hasPermission(p.Permissions, PermAdmin) {
		return Principal{}, ForbiddenError{Permission: perm}
	}
	return p, nil
}

// categoryPermission is the permission needed to work a review queue.
func categoryPermission(c domain.Category) string {
	if c == domain.CategoryFlagged {
		return PermReviewFlagged
	}
	return PermReview
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		ReviewerID:  claims.Subject,
		Email:       claims.Email,
		Permissions: claims.Permissions,
		Source:      "jwt",
	}, nil
}

// SignToken mints an HS256 token for a reviewer.
func SignToken(secret, subject, email string, perms []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:       email,
		Permissions: perms,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func authenticateAPIKey(ctx context.Context, e engine.Engine, key string) (Principal, error) {
	apiKey, err := e.AuthenticateAPIKey(ctx, key)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		ReviewerID:  apiKey.ReviewerID,
		Email:       apiKey.Email,
		Permissions: apiKey.Permissions,
		Source:      "api_key",
	}, nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine, logger *zap.Logger) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "reject-reasons"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	if cfg.AllowDevLogin {
		open[path.Join(basePath, "auth/dev/login")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					logger.Debug("rejected token", zap.Error(err))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), e, apiKeyHeader)
				if err != nil {
					logger.Debug("rejected api key", zap.Error(err))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
