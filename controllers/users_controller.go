package controllers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/vrixsa/apperrors"
	"github.com/princinho/vrixsa/dto"
	"github.com/princinho/vrixsa/middleware"
	"github.com/princinho/vrixsa/services"
	"github.com/princinho/vrixsa/utils"
)

// GET /users/me
func GetMe(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		user, err := d.Auth.Me(c.Request.Context(), p)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// GET /users/me/devices
func ListMyDevices(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		user, err := d.Auth.Me(c.Request.Context(), p)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"devices": user.Devices, "current": p.DeviceID})
	}
}

// PATCH /users/me
func UpdateMe(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var body dto.UpdateProfileDTO
		if !bindJSON(c, &body) {
			return
		}
		user, err := d.Auth.UpdateProfile(c.Request.Context(), p, services.ProfileUpdate{Name: body.Name})
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// POST /users/me/password
func ChangeMyPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var body dto.ChangeMyPasswordDTO
		if !bindJSON(c, &body) {
			return
		}
		if _, err := d.Auth.ChangePassword(c.Request.Context(), p, body.CurrentPassword, body.NewPassword); err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// POST /users/me/password/set
func SetMyPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var body dto.SetPasswordDTO
		if !bindJSON(c, &body) {
			return
		}
		user, err := d.Auth.SetPassword(c.Request.Context(), p, body.Password)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// POST /users/me/avatar
func UploadAvatar(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		if d.Avatars == nil || d.Validator == nil {
			middleware.RespondError(c, apperrors.ErrUnavailable.WithMessage("uploads are not configured"))
			return
		}

		fh, err := c.FormFile("avatar")
		if err != nil {
			middleware.RespondError(c, apperrors.InvalidInput("avatar file is required"))
			return
		}
		contentType, err := d.Validator.ValidateFile(fh)
		if err != nil {
			middleware.RespondError(c, apperrors.InvalidInput(err.Error()))
			return
		}

		ctx := c.Request.Context()
		before, err := d.Auth.Me(ctx, p)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		url, err := d.Avatars.UploadAvatar(ctx, p.UserID.Hex(), fh, contentType)
		if err != nil {
			middleware.RespondError(c, apperrors.Internal(err))
			return
		}
		user, err := d.Auth.UpdateProfile(ctx, p, services.ProfileUpdate{Avatar: &url})
		if err != nil {
			middleware.RespondError(c, err)
			return
		}

		// best effort cleanup of the replaced image
		if before.Avatar != "" && before.Avatar != url {
			if err := d.Avatars.DeleteByURL(ctx, before.Avatar); err != nil {
				slog.WarnContext(ctx, "old avatar not deleted", "user_id", p.UserID.Hex(), "error", err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// PATCH /admin/users/:id/block
func SetUserBlocked(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var body dto.SetBlockedDTO
		if !bindJSON(c, &body) {
			return
		}
		user, err := d.Auth.SetBlocked(c.Request.Context(), p, c.Param("id"), *body.Blocked)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// GET /admin/users?page=&limit=
func ListUsers(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		page := utils.ParseIntDefault(c.Query("page"), 1)
		limit := utils.ParseIntDefault(c.Query("limit"), services.DefaultPageSize)
		result, err := d.Auth.ListUsers(c.Request.Context(), p, page, limit)
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// GET /admin/users/:id
func GetUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		user, err := d.Auth.GetUser(c.Request.Context(), p, c.Param("id"))
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}
