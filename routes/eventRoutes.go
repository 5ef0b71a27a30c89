package routes

import (
	"neighborhood-resolver/controllers"
	"neighborhood-resolver/middlewares"

	"github.com/gin-gonic/gin"
)

func EventRoutes(r *gin.Engine, ec *controllers.EventController, secret string) {
	r.GET("/api/events", middlewares.AuthMiddleware(secret), ec.StreamEvents)
}
