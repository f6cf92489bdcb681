package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/parlance-app/backend/internal/infrastructure/logging"
)

// Cookie names.
const (
	SessionCookie      = "appSession"
	VerificationCookie = "auth_verification"
)

const verificationTTL = 10 * time.Minute

// Paths owned by the authentication layer.
const (
	LoginPath    = "/login"
	LogoutPath   = "/logout"
	CallbackPath = "/callback"
)

// Config configures the OpenID Connect login flow.
type Config struct {
	IssuerBaseURL string
	BaseURL       string
	ClientID      string
	ClientSecret  string
	// Secret signs the session cookie. At least 32 characters.
	Secret string
	// Required redirects or rejects every anonymous request.
	Required bool
	// Auth0Logout ends the provider session on logout as well.
	Auth0Logout bool
	Scopes      []string
	SessionTTL  time.Duration
	HTTPClient  *http.Client
}

// Authenticator implements login, callback and logout against an OpenID
// Connect provider and keeps the signed-in user in a signed cookie.
type Authenticator struct {
	cfg    Config
	logger *logging.Logger
	signer *signer
	secure bool

	mu       sync.Mutex
	provider *oidc.Provider
}

// New validates cfg. The provider is discovered on first use, so New
// performs no network I/O.
func New(cfg Config, logger *logging.Logger) (*Authenticator, error) {
	switch {
	case cfg.IssuerBaseURL == "":
		return nil, errors.New("auth: issuer base URL is required")
	case cfg.BaseURL == "":
		return nil, errors.New("auth: base URL is required")
	case cfg.ClientID == "":
		return nil, errors.New("auth: client ID is required")
	case len(cfg.Secret) < 32:
		return nil, errors.New("auth: secret must be at least 32 characters")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("auth: invalid base URL %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s, err := newSigner(cfg.Secret, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		cfg:    cfg,
		logger: logger.Named("auth"),
		signer: s,
		secure: base.Scheme == "https",
	}, nil
}

// Middleware serves /login, /logout and provider callbacks, and attaches
// the session identity to every other request.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		switch {
		case path == LoginPath && c.Request.Method == http.MethodGet:
			a.login(c)
			c.Abort()
			return
		case path == LogoutPath && c.Request.Method == http.MethodGet:
			a.logout(c)
			c.Abort()
			return
		case path == CallbackPath && isProviderCallback(c):
			a.callback(c)
			c.Abort()
			return
		}

		if claims, ok := a.session(c); ok {
			SetIdentity(c, claims.identity())
			a.roll(c, claims)
		} else if a.cfg.Required {
			a.challenge(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// isProviderCallback distinguishes the provider's redirect from a plain
// navigation to /callback, which the SPA shell serves.
func isProviderCallback(c *gin.Context) bool {
	if c.Request.Method == http.MethodPost {
		return true
	}
	q := c.Request.URL.Query()
	return c.Request.Method == http.MethodGet && (q.Has("code") || q.Has("error"))
}

func (a *Authenticator) login(c *gin.Context) {
	ctx := oidc.ClientContext(c.Request.Context(), a.cfg.HTTPClient)
	provider, err := a.discover(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	tx := verificationClaims{
		State:    randomToken(),
		Nonce:    randomToken(),
		Verifier: oauth2.GenerateVerifier(),
		ReturnTo: safeReturnTo(c.Query("returnTo")),
	}
	token, err := a.signer.issueVerification(tx, verificationTTL)
	if err != nil {
		_ = c.Error(fmt.Errorf("sign login transaction: %w", err))
		return
	}
	a.setCookie(c, VerificationCookie, token, verificationTTL)

	target := a.oauth(provider).AuthCodeURL(tx.State,
		oidc.Nonce(tx.Nonce),
		oauth2.S256ChallengeOption(tx.Verifier),
	)
	c.Redirect(http.StatusFound, target)
}

func (a *Authenticator) callback(c *gin.Context) {
	param := func(key string) string {
		if v := c.Query(key); v != "" {
			return v
		}
		return c.PostForm(key)
	}

	if e := param("error"); e != "" {
		a.logger.Warn("provider returned an error",
			zap.String("error", e),
			zap.String("description", param("error_description")),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "login failed"})
		return
	}

	raw, err := c.Cookie(VerificationCookie)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing login state"})
		return
	}
	a.clearCookie(c, VerificationCookie)

	tx, err := a.signer.parseVerification(raw)
	if err != nil || tx.State != param("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login state"})
		return
	}

	ctx := oidc.ClientContext(c.Request.Context(), a.cfg.HTTPClient)
	provider, err := a.discover(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	token, err := a.oauth(provider).Exchange(ctx, param("code"), oauth2.VerifierOption(tx.Verifier))
	if err != nil {
		_ = c.Error(fmt.Errorf("exchange authorization code: %w", err))
		return
	}
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		_ = c.Error(errors.New("token response carries no id_token"))
		return
	}

	idToken, err := provider.Verifier(&oidc.Config{ClientID: a.cfg.ClientID}).Verify(ctx, rawID)
	if err != nil {
		_ = c.Error(fmt.Errorf("verify id_token: %w", err))
		return
	}
	if idToken.Nonce != tx.Nonce {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login state"})
		return
	}

	var profile struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&profile); err != nil {
		_ = c.Error(fmt.Errorf("decode id_token claims: %w", err))
		return
	}

	id := Identity{
		Subject: idToken.Subject,
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	}
	if err := a.startSession(c, id); err != nil {
		_ = c.Error(err)
		return
	}

	a.logger.Info("user signed in", zap.String("sub", id.Subject))
	c.Redirect(http.StatusFound, tx.ReturnTo)
}

func (a *Authenticator) logout(c *gin.Context) {
	a.clearCookie(c, SessionCookie)

	if !a.cfg.Auth0Logout {
		c.Redirect(http.StatusFound, a.cfg.BaseURL)
		return
	}

	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("returnTo", a.cfg.BaseURL)
	c.Redirect(http.StatusFound, strings.TrimSuffix(a.cfg.IssuerBaseURL, "/")+"/v2/logout?"+q.Encode())
}

func (a *Authenticator) challenge(c *gin.Context) {
	if c.Request.Method == http.MethodGet && strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Redirect(http.StatusFound, LoginPath+"?returnTo="+url.QueryEscape(c.Request.URL.RequestURI()))
		return
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
}

func (a *Authenticator) session(c *gin.Context) (*sessionClaims, bool) {
	raw, err := c.Cookie(SessionCookie)
	if err != nil || raw == "" {
		return nil, false
	}
	claims, err := a.signer.parseSession(raw)
	if err != nil {
		a.logger.Debug("ignoring session cookie", zap.Error(err))
		return nil, false
	}
	return claims, true
}

// roll re-issues the session once less than half of its lifetime remains.
func (a *Authenticator) roll(c *gin.Context, claims *sessionClaims) {
	if claims.ExpiresAt == nil || claims.ExpiresAt.Sub(a.signer.now()) > a.cfg.SessionTTL/2 {
		return
	}
	if err := a.startSession(c, claims.identity()); err != nil {
		a.logger.Warn("failed to refresh session", zap.Error(err))
	}
}

func (a *Authenticator) startSession(c *gin.Context, id Identity) error {
	token, err := a.signer.issueSession(id, a.cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	a.setCookie(c, SessionCookie, token, a.cfg.SessionTTL)
	return nil
}

// discover fetches the provider metadata once. Failures are not cached so
// a provider outage at startup heals on the next login.
func (a *Authenticator) discover(ctx context.Context) (*oidc.Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.provider != nil {
		return a.provider, nil
	}

	issuer := a.cfg.IssuerBaseURL
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil && !strings.HasSuffix(issuer, "/") {
		// Auth0 advertises its issuer with a trailing slash.
		if alt, altErr := oidc.NewProvider(ctx, issuer+"/"); altErr == nil {
			p, err = alt, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("discover identity provider: %w", err)
	}

	a.provider = p
	return p, nil
}

func (a *Authenticator) oauth(p *oidc.Provider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		Endpoint:     p.Endpoint(),
		RedirectURL:  a.cfg.BaseURL + CallbackPath,
		Scopes:       a.cfg.Scopes,
	}
}

func (a *Authenticator) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Authenticator) clearCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// safeReturnTo only honours same-site relative paths.
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return u.RequestURI()
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
