package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	metrics     *Metrics
	logger      *zap.Logger
	urls        AppURLs
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, metrics *Metrics, logger *zap.Logger, urls AppURLs) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		metrics:     metrics,
		logger:      logger,
		urls:        urls,
	}
}

type userResponse struct {
	ID            string          `json:"id"`
	Email         string          `json:"email,omitempty"`
	WalletAddress string          `json:"walletAddress,omitempty"`
	AuthMethod    core.AuthMethod `json:"authMethod"`
	DisplayName   string          `json:"displayName,omitempty"`
	AvatarURL     string          `json:"avatarUrl,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastLoginAt   time.Time       `json:"lastLoginAt"`
}

func newUserResponse(u *core.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		WalletAddress: u.WalletAddress,
		AuthMethod:    u.AuthMethod,
		DisplayName:   u.DisplayName,
		AvatarURL:     u.AvatarURL,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   core.CodeInvalidRequest,
		"message": "invalid request",
	})
}

// signedIn sets the session cookie and returns the session token and user
func (h *AuthHandlers) signedIn(c *gin.Context, issued *service.IssuedSession, user *core.User) {
	http.SetCookie(c.Writer, issued.Cookie)
	c.JSON(http.StatusOK, gin.H{
		"sessionToken": issued.Token,
		"expiresAt":    issued.Session.ExpiresAt,
		"user":         newUserResponse(user),
	})
}

// Challenge issues a wallet sign-in challenge
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}

	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c)
		return
	}

	challenge, err := h.authService.CreateChallenge(c.Request.Context(), req.Address)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			badRequest(c)
			return
		}
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":     challenge.Nonce,
		"message":   challenge.Message,
		"expiresAt": challenge.ExpiresAt,
	})
}

// WalletVerify checks a signed challenge and signs the wallet in
func (h *AuthHandlers) WalletVerify(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	issued, user, err := h.authService.LoginWithWallet(c.Request.Context(), req.Address, req.Message, req.Signature)
	h.metrics.recordAttempt(core.AuthMethodWallet, err)
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.signedIn(c, issued, user)
}

// OAuthAuthorize starts the provider redirect
func (h *AuthHandlers) OAuthAuthorize(c *gin.Context) {
	authURL, txn, err := h.authService.BeginAuthorization(c.Request.Context(), c.Query("redirectUri"), c.Query("returnTo"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	maxAge := int(time.Until(txn.ExpiresAt).Seconds())
	h.setTransactionCookie(c, txn.ID, maxAge)
	c.Redirect(http.StatusFound, authURL)
}

// OAuthCallback finishes the provider redirect and lands the browser on the
// return path, or on the error page with a machine-readable code.
func (h *AuthHandlers) OAuthCallback(c *gin.Context) {
	txnID, _ := c.Cookie(transactionCookie)
	h.clearTransactionCookie(c)

	issued, _, returnTo, err := h.authService.LoginWithOAuth(c.Request.Context(), c.Query("code"), c.Query("state"), txnID)
	h.metrics.recordAttempt(core.AuthMethodOAuth, err)
	if err != nil {
		_ = c.Error(err)
		h.logger.Debug("oauth sign-in failed", zap.String("code", core.Code(err)), zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(h.urls.ErrorURL, "error", core.Code(err)))
		return
	}

	if returnTo == "" {
		returnTo = h.urls.SuccessURL
	}
	http.SetCookie(c.Writer, issued.Cookie)
	c.Redirect(http.StatusFound, returnTo)
}

// PasswordSignUp registers a password user
func (h *AuthHandlers) PasswordSignUp(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		Password    string `json:"password" binding:"required"`
		DisplayName string `json:"displayName"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	issued, user, err := h.authService.SignUp(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	h.metrics.recordAttempt(core.AuthMethodPassword, err)
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.signedIn(c, issued, user)
}

// PasswordLogin signs a password user in
func (h *AuthHandlers) PasswordLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	issued, user, err := h.authService.LoginWithPassword(c.Request.Context(), req.Email, req.Password)
	h.metrics.recordAttempt(core.AuthMethodPassword, err)
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.signedIn(c, issued, user)
}

// ValidateSession lets other services check a session token
func (h *AuthHandlers) ValidateSession(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	session, err := h.authService.ValidateSession(c.Request.Context(), req.Token)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    session.UserID,
		"expiresAt": session.ExpiresAt,
	})
}

// Session reports whether the caller is signed in without redirecting
func (h *AuthHandlers) Session(c *gin.Context) {
	token, _ := sessionToken(c, h.authService.Config().Cookie.Name)

	session, err := h.authService.ValidateSession(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"userId":        session.UserID,
		"method":        session.Method,
		"expiresAt":     session.ExpiresAt,
	})
}

// Logout revokes the caller's session. Logging out twice is not an error.
func (h *AuthHandlers) Logout(c *gin.Context) {
	token, _ := sessionToken(c, h.authService.Config().Cookie.Name)

	err := h.authService.RevokeSession(c.Request.Context(), token)
	if err != nil && !errors.Is(err, core.ErrSessionInvalid) {
		abortWithError(c, err)
		return
	}

	http.SetCookie(c.Writer, h.authService.ClearSessionCookie())
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	user, err := h.authService.CurrentUser(c.Request.Context(), c.GetString(ctxUserIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

// Authorize checks if a user is authorized
func (h *AuthHandlers) Authorize(c *gin.Context) {
	// The session middleware already admitted the request
	c.JSON(http.StatusOK, gin.H{
		"authorized": true,
		"userId":     c.GetString(ctxUserIDKey),
	})
}

// LinkWallet attaches a wallet proven by a signed challenge to the caller
func (h *AuthHandlers) LinkWallet(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	user, err := h.authService.LinkWallet(c.Request.Context(), c.GetString(ctxUserIDKey), req.Address, req.Message, req.Signature)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
