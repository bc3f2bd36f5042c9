package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/princinho/vrixsa/metrics"
	"github.com/princinho/vrixsa/middleware"
	"github.com/princinho/vrixsa/models"
)

// RegisterRoutes mounts every endpoint on r. A nil registry leaves /metrics off.
func RegisterRoutes(r *gin.Engine, d *Deps, reg *metrics.Registry) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if reg != nil {
		r.GET("/metrics", gin.WrapH(reg.Handler()))
	}

	r.POST("/auth/register", Register(d))
	r.POST("/auth/login", Login(d))
	r.POST("/auth/refresh", Refresh(d))
	r.POST("/auth/google", GoogleLogin(d))
	r.POST("/auth/password/forgot", ForgotPassword(d))
	r.POST("/auth/password/reset", ResetPassword(d))

	authed := r.Group("/")
	authed.Use(middleware.Authenticate(d.Auth, d.Cookies))
	{
		authed.POST("/auth/logout", Logout(d))
		authed.POST("/auth/verification", RequestVerification(d))
		authed.POST("/auth/verification/confirm", ConfirmVerification(d))

		authed.GET("/users/me", GetMe(d))
		authed.PATCH("/users/me", UpdateMe(d))
		authed.GET("/users/me/devices", ListMyDevices(d))
		authed.POST("/users/me/password", ChangeMyPassword(d))
		authed.POST("/users/me/password/set", SetMyPassword(d))
		authed.POST("/users/me/avatar", middleware.RequireVerified(), UploadAvatar(d))
	}

	admin := r.Group("/admin")
	admin.Use(middleware.Authenticate(d.Auth, d.Cookies), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", ListUsers(d))
		admin.GET("/users/:id", GetUser(d))
		admin.PATCH("/users/:id/block", SetUserBlocked(d))
	}
}
