package routes

import (
	"neighborhood-resolver/controllers"
	"neighborhood-resolver/middlewares"

	"github.com/gin-gonic/gin"
)

// IssueRoutes sets up the issue routes. rateLimit guards report creation.
func IssueRoutes(r *gin.Engine, ic *controllers.IssueController, secret string, rateLimit gin.HandlerFunc) {
	issue := r.Group("/api/issues", middlewares.AuthMiddleware(secret))
	{
		issue.POST("", rateLimit, ic.CreateIssue)
		issue.GET("", ic.GetAllIssues)
		issue.GET("/mine", ic.GetMyIssues)
		issue.GET("/analytics", middlewares.AuthorityOnly(), ic.GetAnalytics)
		issue.GET("/map", ic.GetMapMarkers)
		issue.GET("/:id", ic.GetIssue)
		issue.PATCH("/:id/status", middlewares.AuthorityOnly(), ic.UpdateIssueStatus)
		issue.POST("/:id/award/retry", middlewares.AuthorityOnly(), ic.RetryAward)
	}
}
