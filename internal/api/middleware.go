package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notification-service/internal/common/auth"
	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/metrics"

	"github.com/gin-gonic/gin"
)

const (
	principalKey       = "principal"
	serviceTokenHeader = "X-Service-Token"
)

// bearerAuth verifies the Authorization bearer token and stores the caller in the context.
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || token == "" {
			s.respondError(c, apperrors.NewUnauthorizedError("missing bearer token"))
			return
		}

		principal, err := s.auth.AuthorizeRequest(token)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// serviceToken guards service-to-service routes.
func (s *Server) serviceToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.auth.VerifyServiceToken(c.GetHeader(serviceTokenHeader)); err != nil {
			s.respondError(c, err)
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(auth.Principal)
	return p
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic while serving request", map[string]interface{}{
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"panic":  fmt.Sprint(r),
				})
				s.respondError(c, apperrors.NewInternalError(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
