package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
)

const scopeContextKey = "workspace_scope"

// WorkspaceClaims is the access token payload. The workspace id claim is
// what every scoped endpoint runs under; the subject is the acting user.
type WorkspaceClaims struct {
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// IssueWorkspaceToken signs an HS256 access token for a user acting inside
// one workspace.
func IssueWorkspaceToken(secret, userID, workspaceID, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth secret is not configured")
	}
	now := time.Now().UTC()
	claims := WorkspaceClaims{
		WorkspaceID: workspaceID,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseWorkspaceToken verifies the token and returns its claims.
func ParseWorkspaceToken(secret, tokenString string) (*WorkspaceClaims, error) {
	claims := &WorkspaceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authMiddleware validates the bearer token and stores the workspace scope
// on the request context. Everything behind it is tenant-scoped.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := ParseWorkspaceToken(s.Config.Auth.Secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		scope, err := store.NewScope(claims.WorkspaceID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no workspace"})
			return
		}
		c.Set(scopeContextKey, scope)
		c.Set("actor_user_id", claims.Subject)
		c.Next()
	}
}

// requestScope returns the scope set by authMiddleware.
func requestScope(c *gin.Context) store.Scope {
	return c.MustGet(scopeContextKey).(store.Scope)
}
