package service

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// AuthService guards the cron trigger routes. External callers present the
// shared secret as a bearer token; an operator may instead present a TOTP
// code when a TOTP secret is configured, so manual triggering never requires
// pasting the long-lived secret.
type AuthService struct {
	logger        *zap.Logger
	triggerSecret string
	totpSecret    string
}

func NewAuthService(logger *zap.Logger, triggerSecret, totpSecret string) *AuthService {
	return &AuthService{
		logger:        logger,
		triggerSecret: triggerSecret,
		totpSecret:    totpSecret,
	}
}

// TriggerAuthMiddleware rejects trigger calls without valid credentials. A
// rejected call has no side effects on any job.
func (a *AuthService) TriggerAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if a.validSecret(token) {
				c.Next()
				return
			}
		}

		if code := c.GetHeader("X-Trigger-Code"); code != "" && a.ValidateTOTP(code) {
			c.Next()
			return
		}

		a.logger.Warn("Trigger authentication failed",
			zap.String("client_ip", c.ClientIP()),
			zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid trigger credentials"})
	}
}

func (a *AuthService) validSecret(token string) bool {
	if a.triggerSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.triggerSecret)) == 1
}

func (a *AuthService) ValidateTOTP(code string) bool {
	if a.totpSecret == "" {
		return false
	}
	valid := totp.Validate(code, a.totpSecret)
	if !valid {
		a.logger.Warn("TOTP validation failed")
	}
	return valid
}
