package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dadyutenga/ShopApI/internal/config"
	"github.com/dadyutenga/ShopApI/internal/http/handler"
	httpmiddleware "github.com/dadyutenga/ShopApI/internal/http/middleware"
	"github.com/dadyutenga/ShopApI/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)

		otp := authGroup.Group("/otp")
		{
			otp.POST("/request", authHandler.OTPRequest)
			otp.POST("/resend", authHandler.OTPResend)
			otp.POST("/verify", authHandler.OTPVerify)
		}

		authGroup.GET("/me", authMiddleware.ValidateJWT, authHandler.Me)
	}

	r.GET("/.well-known/jwks.json", authHandler.JWKS)

	return r
}
