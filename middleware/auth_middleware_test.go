package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/princinho/vrixsa/apperrors"
	"github.com/princinho/vrixsa/database"
	"github.com/princinho/vrixsa/devices"
	"github.com/princinho/vrixsa/mailer"
	"github.com/princinho/vrixsa/models"
	"github.com/princinho/vrixsa/services"
	"github.com/princinho/vrixsa/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uaFirefox = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"

type nopMailer struct{}

func (nopMailer) Enqueue(context.Context, mailer.Message) error { return nil }

func newAuth(t *testing.T) (*services.AuthService, *utils.TokenCodec) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	codec, err := utils.NewTokenCodec("access-secret", "refresh-secret", "test")
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewMemoryUserStore()
	verify := services.NewVerificationService(store, nopMailer{}, services.VerificationConfig{}, nil, log)
	auth := services.NewAuthService(services.AuthDeps{
		Users:        store,
		Codec:        codec,
		Devices:      devices.NewRegistry(devices.PolicyLenient),
		Verification: verify,
		Logger:       log,
	}, services.AuthConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	return auth, codec
}

func protected(auth *services.AuthService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Authenticate(auth, utils.CookieConfig{})}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := CurrentPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"email": p.Email})
	})
	r.GET("/p", handlers...)
	return r
}

func get(r *gin.Engine, bearer string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("User-Agent", uaFirefox)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRespondErrorHidesInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondError(c, errors.New("mongo: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "mongo")
	assert.True(t, c.IsAborted())
}

func TestRespondErrorKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondError(c, apperrors.ErrDeviceMismatch)

	assert.Equal(t, http.StatusForbidden, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.KindDeviceMismatch), body["kind"])
}

func TestClientInfoPrefersHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("User-Agent", uaFirefox)
	c.Request.AddCookie(&http.Cookie{Name: utils.DeviceCookie, Value: "from-cookie"})

	assert.Equal(t, "from-cookie", ClientInfoFrom(c).DeviceID)

	c.Request.Header.Set(DeviceIDHeader, "from-header")
	info := ClientInfoFrom(c)
	assert.Equal(t, "from-header", info.DeviceID)
	assert.Equal(t, uaFirefox, info.UserAgent)
}

func TestAuthenticate(t *testing.T) {
	auth, _ := newAuth(t)
	sess, err := auth.Register(context.Background(), services.RegisterInput{
		Name: "Jane", Email: "jane@example.com", Password: "password123",
	}, services.ClientInfo{UserAgent: uaFirefox})
	require.NoError(t, err)
	r := protected(auth)

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "not-a-jwt").Code)

	w := get(r, sess.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jane@example.com")

	w = get(r, "", &http.Cookie{Name: utils.AccessCookie, Value: sess.AccessToken})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticateRenewsExpiredToken(t *testing.T) {
	auth, codec := newAuth(t)
	sess, err := auth.Register(context.Background(), services.RegisterInput{
		Name: "Jane", Email: "jane@example.com", Password: "password123",
	}, services.ClientInfo{UserAgent: uaFirefox})
	require.NoError(t, err)

	past := codec.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	expired, err := past.SignAccessToken(sess.User.ID.Hex(), sess.User.Email, string(sess.User.Role), sess.DeviceID, time.Minute)
	require.NoError(t, err)
	r := protected(auth)

	// no refresh cookie: the expiry is reported as is
	w := get(r, expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, expired,
		&http.Cookie{Name: utils.RefreshCookie, Value: sess.RefreshToken},
		&http.Cookie{Name: utils.DeviceCookie, Value: sess.DeviceID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var renewed bool
	for _, c := range w.Result().Cookies() {
		if c.Name == utils.RefreshCookie && c.Value != "" && c.Value != sess.RefreshToken {
			renewed = true
		}
	}
	assert.True(t, renewed)

	// a bad signature is never refreshed
	w = get(r, sess.RefreshToken, &http.Cookie{Name: utils.RefreshCookie, Value: sess.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	run := func(p *services.Principal) int {
		r := gin.New()
		r.GET("/a", func(c *gin.Context) {
			if p != nil {
				c.Set(principalKey, p)
			}
		}, RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, run(nil))
	assert.Equal(t, http.StatusForbidden, run(&services.Principal{Role: models.RoleUser}))
	assert.Equal(t, http.StatusNoContent, run(&services.Principal{Role: models.RoleAdmin}))
}

func TestRequireVerified(t *testing.T) {
	gin.SetMode(gin.TestMode)
	run := func(verified bool) int {
		r := gin.New()
		r.GET("/v", func(c *gin.Context) {
			c.Set(principalKey, &services.Principal{IsVerified: verified})
		}, RequireVerified(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, run(false))
	assert.Equal(t, http.StatusNoContent, run(true))
}
