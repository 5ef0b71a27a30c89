package authUtils

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"neighborhood-resolver/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
)

const (
	CookieName = "auth_token"
	TokenTTL   = 72 * time.Hour
)

var ErrInvalidToken = errors.New("invalid authorization token")

// Claims carried by the session token. UserType is a UI hint; mutating
// operations re-read the stored role.
type Claims struct {
	UserID   string          `json:"user_id"`
	UserType models.UserType `json:"user_type"`
	jwt.StandardClaims
}

// GenerateToken signs a session token for the user
func GenerateToken(user *models.User, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret is not set")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID.Hex(),
		UserType: user.UserType,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(TokenTTL).Unix(),
		},
	})

	return token.SignedString([]byte(secret))
}

// GenerateAndSetToken signs a token and stores it in the auth cookie.
func GenerateAndSetToken(c *gin.Context, user *models.User, secret, domain string, secure bool) (string, error) {
	tokenString, err := GenerateToken(user, secret)
	if err != nil {
		return "", err
	}

	c.SetSameSite(httpSameSite(secure))
	c.SetCookie(CookieName, tokenString, int(TokenTTL.Seconds()), "/", domain, secure, true)
	return tokenString, nil
}

// ClearToken expires the auth cookie
func ClearToken(c *gin.Context, domain string, secure bool) {
	c.SetSameSite(httpSameSite(secure))
	c.SetCookie(CookieName, "", -1, "/", domain, secure, true)
}

// ParseToken validates the signature and expiry and returns the claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}

// Cross-site cookies need SameSite=None, which browsers only accept over HTTPS.
func httpSameSite(secure bool) http.SameSite {
	if secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
