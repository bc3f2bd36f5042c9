package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/princinho/vrixsa/apperrors"
	"github.com/princinho/vrixsa/models"
	"github.com/princinho/vrixsa/services"
	"github.com/princinho/vrixsa/utils"
)

const (
	principalKey   = "principal"
	DeviceIDHeader = "X-Device-Id"
)

// RespondError writes err as {"error", "kind"} with its mapped status.
// Internal causes are logged and never sent to the client.
func RespondError(c *gin.Context, err error) {
	e := apperrors.As(err)
	if e.Kind == apperrors.KindInternal {
		slog.ErrorContext(c.Request.Context(), "request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(e.Status, gin.H{"error": e.Message, "kind": e.Kind})
}

// ClientInfoFrom collects the device id, user agent and address of the caller.
func ClientInfoFrom(c *gin.Context) services.ClientInfo {
	deviceID, _ := c.Cookie(utils.DeviceCookie)
	if h := strings.TrimSpace(c.GetHeader(DeviceIDHeader)); h != "" {
		deviceID = h
	}
	return services.ClientInfo{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
		DeviceID:  deviceID,
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	token, _ := c.Cookie(utils.AccessCookie)
	return token
}

// Authenticate resolves the caller from a bearer token or the session
// cookie. When the access token has expired and a refresh cookie is
// present, the session is renewed in place and new cookies are set.
func Authenticate(auth *services.AuthService, cookies utils.CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token := bearerToken(c)

		var (
			p   *services.Principal
			err error
		)
		if token != "" {
			p, err = auth.Authenticate(ctx, token)
		}

		refreshable := token == "" || errors.Is(err, utils.ErrTokenExpired)
		if refreshable {
			refresh, _ := c.Cookie(utils.RefreshCookie)
			if refresh == "" {
				if token == "" {
					RespondError(c, apperrors.ErrUnauthorized.WithMessage("missing token"))
				} else {
					RespondError(c, err)
				}
				return
			}
			sess, rerr := auth.Refresh(ctx, refresh, ClientInfoFrom(c))
			if rerr != nil {
				cookies.ClearSessionCookies(c)
				RespondError(c, rerr)
				return
			}
			cookies.SetSessionCookies(c, sess.AccessToken, sess.RefreshToken, sess.DeviceID, sess.AccessTTL, sess.RefreshTTL)
			p, err = auth.Authenticate(ctx, sess.AccessToken)
		}
		if err != nil {
			RespondError(c, err)
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// CurrentPrincipal returns the caller set by Authenticate.
func CurrentPrincipal(c *gin.Context) (*services.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*services.Principal)
	return p, ok && p != nil
}

func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			RespondError(c, apperrors.ErrUnauthorized)
			return
		}
		if !slices.Contains(roles, p.Role) {
			RespondError(c, apperrors.ErrForbidden.WithMessage("insufficient role"))
			return
		}
		c.Next()
	}
}

func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			RespondError(c, apperrors.ErrUnauthorized)
			return
		}
		if !p.IsVerified {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "email not verified", "kind": apperrors.KindForbidden})
			return
		}
		c.Next()
	}
}
