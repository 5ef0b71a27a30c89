package routes

import (
	"neighborhood-resolver/controllers"
	"neighborhood-resolver/middlewares"

	"github.com/gin-gonic/gin"
)

func UserRoutes(r *gin.Engine, uc *controllers.UserController, vc *controllers.VoucherController, secret string) {
	api := r.Group("/api", middlewares.AuthMiddleware(secret))
	{
		api.GET("/profile", uc.GetProfile)
		api.PUT("/profile/device", uc.RegisterDevice)
		api.GET("/profile/history", uc.GetHistory)
		api.GET("/leaderboard", uc.GetLeaderboard)

		api.GET("/vouchers", vc.GetVouchers)
		api.POST("/vouchers/:id/redeem", vc.RedeemVoucher)
	}
}
