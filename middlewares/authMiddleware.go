package middlewares

import (
	"net/http"
	"strings"

	"neighborhood-resolver/models"
	authUtils "neighborhood-resolver/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	UserIDKey   = "user_id"
	UserTypeKey = "user_type"
)

// AuthMiddleware accepts a bearer token or the auth cookie.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization token provided"})
			return
		}

		claims, err := authUtils.ParseToken(tokenString, secret)
		if err != nil {
			log.Debugf("token validation failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization token"})
			return
		}

		if _, err := primitive.ObjectIDFromHex(claims.UserID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserTypeKey, claims.UserType)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	cookie, err := c.Cookie(authUtils.CookieName)
	if err != nil {
		return ""
	}
	return cookie
}

// AuthorityOnly rejects non-authority tokens early. It only looks at the
// claim; the workflow checks the stored role again.
func AuthorityOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userType, _ := c.Get(UserTypeKey); userType != models.Authority {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Authority access required"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user's id set by AuthMiddleware.
func CurrentUser(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.GetString(UserIDKey))
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}
