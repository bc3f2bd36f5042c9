package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	AccessCookie  = "_session"
	RefreshCookie = "_gsession"
	DeviceCookie  = "_device"

	deviceCookieTTL = 365 * 24 * time.Hour
)

type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
}

func (cc CookieConfig) set(c *gin.Context, name, value string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cc.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: cc.SameSite,
	})
}

// SetSessionCookies writes the access, refresh and device cookies.
func (cc CookieConfig) SetSessionCookies(c *gin.Context, access, refresh, deviceID string, accessTTL, refreshTTL time.Duration) {
	cc.set(c, AccessCookie, access, accessTTL)
	cc.set(c, RefreshCookie, refresh, refreshTTL)
	cc.set(c, DeviceCookie, deviceID, deviceCookieTTL)
}

// ClearSessionCookies expires the token cookies. The device cookie stays so
// the next login on this client is recognised.
func (cc CookieConfig) ClearSessionCookies(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{Name: AccessCookie, Value: "", Path: "/", Domain: cc.Domain, MaxAge: -1, HttpOnly: true, Secure: cc.Secure, SameSite: cc.SameSite})
	http.SetCookie(c.Writer, &http.Cookie{Name: RefreshCookie, Value: "", Path: "/", Domain: cc.Domain, MaxAge: -1, HttpOnly: true, Secure: cc.Secure, SameSite: cc.SameSite})
}

func ParseSameSite(v string) http.SameSite {
	switch v {
	case "strict", "Strict":
		return http.SameSiteStrictMode
	case "none", "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
