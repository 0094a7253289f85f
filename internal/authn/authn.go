// Package authn guards AIM's mutating HTTP routes with a single shared
// bearer token, bootstrapped from configuration and checked via
// Bearer-header-then-query-param parsing. AIM has exactly one caller (the
// control plane) rather than per-user roles.
package authn

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Service verifies bearer tokens against a single bcrypt-hashed secret
// bootstrapped from configuration.
type Service struct {
	hash []byte
}

// New bootstraps the auth service from the admin token configured at
// startup. An empty token disables authentication entirely (e.g. for
// local development).
func New(adminToken string) (*Service, error) {
	if adminToken == "" {
		log.Warn().Msg("no admin token configured; control-plane HTTP surface is unauthenticated")
		return &Service{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Service{hash: hash}, nil
}

// Middleware rejects requests lacking a valid bearer token. A Service with
// no configured token lets every request through.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.hash) == 0 {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication"})
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword(s.hash, []byte(token)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if q := c.Query("token"); q != "" {
		return q
	}
	return ""
}
