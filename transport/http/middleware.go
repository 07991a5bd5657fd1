package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/service"
)

const (
	ctxSessionKey = "session"
	ctxUserIDKey  = "userID"
)

// RequireSession creates middleware that admits only requests carrying a
// live session. Browser requests without one are sent to signInURL; bearer
// requests get a 401.
func RequireSession(authService *service.AuthService, signInURL string) gin.HandlerFunc {
	cookieName := authService.Config().Cookie.Name
	return func(c *gin.Context) {
		token, bearer := sessionToken(c, cookieName)

		session, err := authService.ValidateSession(c.Request.Context(), token)
		if err != nil {
			if bearer {
				abortWithError(c, err)
				return
			}
			c.Redirect(http.StatusFound, signInURL)
			c.Abort()
			return
		}

		c.Set(ctxSessionKey, session)
		c.Set(ctxUserIDKey, session.UserID)
		c.Next()
	}
}

// RequestLogger logs every request once it has been served
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

// Recovery turns panics into 500s and logs them
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic serving request", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		abortWithError(c, errors.New("panic"))
	})
}

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch core.Code(err) {
	case core.CodeInvalidSignature, core.CodeSessionInvalid, core.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case core.CodeChallengeExpired, core.CodeChallengeConsumed:
		return http.StatusGone
	case core.CodeInvalidOAuthState, core.CodeMissingOAuthParameters, core.CodeInvalidRequest:
		return http.StatusBadRequest
	case core.CodeIdentityConflict:
		return http.StatusConflict
	case core.CodeProviderExchangeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the uniform error body. Details stay in the logs.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"error":   core.Code(err),
		"message": "sign-in failed, please try again",
	})
}
