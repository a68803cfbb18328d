package handlers

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/oauth2"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/handlers/dto"
	"github.com/thereayou/roomkit/internal/middleware"
	"github.com/thereayou/roomkit/internal/oauth"
	"github.com/thereayou/roomkit/pkg/auth"
)

const (
	stateCookie    = "oauth_state"
	verifierCookie = "oauth_verifier"
	redirectCookie = "auth_redirect_target"
	flowCookieTTL  = 5 * time.Minute
)

type AuthHandler struct {
	db           *database.Database
	jwtManager   *auth.JWTManager
	blacklist    *auth.Blacklist
	provider     oauth.Provider
	secureCookie bool
	log          *slog.Logger
}

// NewAuthHandler takes a nil provider when Google login is not configured.
func NewAuthHandler(db *database.Database, jwtMgr *auth.JWTManager, blacklist *auth.Blacklist, provider oauth.Provider, secureCookie bool, l *slog.Logger) *AuthHandler {
	return &AuthHandler{
		db:           db,
		jwtManager:   jwtMgr,
		blacklist:    blacklist,
		provider:     provider,
		secureCookie: secureCookie,
		log:          l.With("component", "auth"),
	}
}

// GoogleStart redirects to Google's consent page.
func (h *AuthHandler) GoogleStart(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "google_oauth_not_configured"})
		return
	}

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()
	h.setFlowCookie(c, stateCookie, state)
	h.setFlowCookie(c, verifierCookie, verifier)

	if target := c.Query("redirect"); target != "" {
		h.setFlowCookie(c, redirectCookie, target)
	}

	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, verifier))
}

// GoogleCallback finishes the login: state check, code exchange, user upsert, token.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "google_oauth_not_configured"})
		return
	}

	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_state"})
		return
	}
	verifier, _ := c.Cookie(verifierCookie)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "missing_code"})
		return
	}

	identity, err := h.provider.Exchange(c.Request.Context(), code, verifier)
	if err != nil {
		h.log.Warn("google exchange failed", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "token_exchange_failed"})
		return
	}

	user, err := h.db.UpsertGoogleUser(c.Request.Context(), database.GoogleProfile{
		Subject: identity.Subject,
		Email:   identity.Email,
		Name:    identity.Name,
		Picture: identity.Picture,
	})
	if err != nil {
		h.log.Error("provisioning google user", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "user_provisioning_failed"})
		return
	}

	token, err := h.jwtManager.Generate(user.ID, user.Name, user.Picture)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "could not generate token"})
		return
	}

	h.clearFlowCookie(c, stateCookie)
	h.clearFlowCookie(c, verifierCookie)

	target := "/auth/success"
	if stored, err := c.Cookie(redirectCookie); err == nil && isLocalPath(stored) {
		target = stored
	}
	h.clearFlowCookie(c, redirectCookie)

	h.log.Info("user logged in", "user_id", user.ID)
	c.Redirect(http.StatusFound, withToken(target, token))
}

var successPage = template.Must(template.New("auth_success").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Signed in</title></head>
<body>
<script>
(function () {
  var token = {{.Token}};
  if (window.opener) {
    window.opener.postMessage({type: "auth.success", token: token}, window.location.origin);
    window.close();
    return;
  }
  document.body.textContent = "Signed in. You can close this window.";
})();
</script>
</body>
</html>
`))

// Success is where the login popup lands. Browsers get a page that hands the
// token to window.opener and closes; API clients asking for JSON get the token.
func (h *AuthHandler) Success(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "missing token"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Referrer-Policy", "no-referrer")

	switch c.NegotiateFormat(binding.MIMEHTML, binding.MIMEJSON) {
	case binding.MIMEJSON:
		c.JSON(http.StatusOK, dto.TokenResponse{Token: token})
	default:
		c.Render(http.StatusOK, render.HTML{
			Template: successPage,
			Data:     dto.TokenResponse{Token: token},
		})
	}
}

// Logout blacklists the token in Redis until it expires.
func (h *AuthHandler) Logout(c *gin.Context) {
	rawToken := c.GetString(middleware.TokenKey)

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token"})
		return
	}

	if err := h.blacklist.Revoke(c.Request.Context(), rawToken, exp); err != nil {
		h.log.Warn("token blacklist unavailable on logout", "error", err)
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) setFlowCookie(c *gin.Context, name, value string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(flowCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearFlowCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// isLocalPath keeps the post-login redirect on this origin.
func isLocalPath(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.Contains(target, `\`)
}

func withToken(target, token string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "/auth/success?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

var errNoUser = errors.New("no authenticated user")

func currentUser(c *gin.Context) (uint, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, errNoUser
	}
	return id, nil
}
