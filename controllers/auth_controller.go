package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/vrixsa/apperrors"
	"github.com/princinho/vrixsa/dto"
	"github.com/princinho/vrixsa/middleware"
	"github.com/princinho/vrixsa/services"
	"github.com/princinho/vrixsa/storage"
	"github.com/princinho/vrixsa/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Deps is what the handlers are built from.
type Deps struct {
	Auth         *services.AuthService
	Verification *services.VerificationService
	Cookies      utils.CookieConfig
	Avatars      storage.AvatarStore
	Validator    *storage.FileValidator
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		middleware.RespondError(c, apperrors.InvalidInput(err.Error()))
		return false
	}
	return true
}

func principal(c *gin.Context) (*services.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		middleware.RespondError(c, apperrors.ErrUnauthorized.WithMessage("missing auth context"))
	}
	return p, ok
}

// writeSession sets the session cookies and returns the tokens in the body
// for clients that do not keep cookies.
func writeSession(c *gin.Context, d *Deps, status int, sess *services.Session) {
	d.Cookies.SetSessionCookies(c, sess.AccessToken, sess.RefreshToken, sess.DeviceID, sess.AccessTTL, sess.RefreshTTL)
	c.JSON(status, gin.H{
		"user":         sess.User,
		"accessToken":  sess.AccessToken,
		"refreshToken": sess.RefreshToken,
		"deviceId":     sess.DeviceID,
		"expiresIn":    int(sess.AccessTTL.Seconds()),
	})
}

// POST /auth/register
func Register(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.RegisterDTO
		if !bindJSON(c, &body) {
			return
		}
		sess, err := d.Auth.Register(c.Request.Context(), services.RegisterInput{
			Name:     body.Name,
			Email:    body.Email,
			Password: body.Password,
		}, middleware.ClientInfoFrom(c))
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		writeSession(c, d, http.StatusCreated, sess)
	}
}

// POST /auth/login
func Login(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.LoginDTO
		if !bindJSON(c, &body) {
			return
		}
		sess, err := d.Auth.Login(c.Request.Context(), body.Email, body.Password, middleware.ClientInfoFrom(c))
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		writeSession(c, d, http.StatusOK, sess)
	}
}

// POST /auth/refresh
func Refresh(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.RefreshDTO
		// an empty body falls back to the cookie
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			middleware.RespondError(c, apperrors.InvalidInput(err.Error()))
			return
		}

		token := body.RefreshToken
		if token == "" {
			token, _ = c.Cookie(utils.RefreshCookie)
		}
		if token == "" {
			middleware.RespondError(c, apperrors.ErrInvalidRefreshToken.WithMessage("missing refresh token"))
			return
		}

		sess, err := d.Auth.Refresh(c.Request.Context(), token, middleware.ClientInfoFrom(c))
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidRefreshToken) {
				d.Cookies.ClearSessionCookies(c)
			}
			middleware.RespondError(c, err)
			return
		}
		writeSession(c, d, http.StatusOK, sess)
	}
}

// POST /auth/google
func GoogleLogin(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.SocialLoginDTO
		if !bindJSON(c, &body) {
			return
		}
		sess, err := d.Auth.SocialLogin(c.Request.Context(), body.IDToken, middleware.ClientInfoFrom(c))
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		writeSession(c, d, http.StatusOK, sess)
	}
}

// POST /auth/logout
func Logout(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		d.Cookies.ClearSessionCookies(c)
		if err := d.Auth.Logout(c.Request.Context(), p); err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// POST /auth/verification
func RequestVerification(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		queued, err := d.Verification.RequestEmailVerification(c.Request.Context(), p.UserID)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		if !queued {
			middleware.RespondError(c, apperrors.ErrUnavailable.WithMessage("could not send verification email, try again later"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// POST /auth/verification/confirm
func ConfirmVerification(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var body dto.VerifyOTPDTO
		if !bindJSON(c, &body) {
			return
		}
		user, err := d.Verification.RedeemOTP(c.Request.Context(), p.UserID, body.OTP)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// POST /auth/password/forgot
func ForgotPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ForgotPasswordDTO
		if !bindJSON(c, &body) {
			return
		}
		queued, err := d.Verification.RequestPasswordReset(c.Request.Context(), body.Email)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		if !queued {
			middleware.RespondError(c, apperrors.ErrUnavailable.WithMessage("could not send reset email, try again later"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// POST /auth/password/reset
func ResetPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ResetPasswordDTO
		if !bindJSON(c, &body) {
			return
		}
		if _, err := bson.ObjectIDFromHex(body.UserID); err != nil {
			middleware.RespondError(c, apperrors.ErrTokenExpiredOrInvalid)
			return
		}
		sess, err := d.Auth.CompletePasswordReset(c.Request.Context(), body.UserID, body.Token, body.NewPassword, middleware.ClientInfoFrom(c))
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		writeSession(c, d, http.StatusOK, sess)
	}
}
