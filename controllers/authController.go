package controllers

import (
	"context"
	"errors"
	"net/http"

	"neighborhood-resolver/config"
	"neighborhood-resolver/middlewares"
	"neighborhood-resolver/models"
	"neighborhood-resolver/repository"
	authUtils "neighborhood-resolver/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Get(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// ProfileProvisioner creates the points profile on first sign-in.
type ProfileProvisioner interface {
	Ensure(ctx context.Context, user *models.User) (*models.Profile, error)
}

type AuthController struct {
	users           UserStore
	profiles        ProfileProvisioner
	secret          string
	domain          string
	secure          bool
	authoritySignup bool
}

func NewAuthController(users UserStore, profiles ProfileProvisioner, cfg config.Config) *AuthController {
	domain := cfg.Domain
	// For production, don't set domain to allow cross-origin cookies
	if cfg.IsProduction() {
		domain = ""
	}
	return &AuthController{
		users:           users,
		profiles:        profiles,
		secret:          cfg.JWTSecret,
		domain:          domain,
		secure:          cfg.IsProduction(),
		authoritySignup: cfg.AuthoritySignup,
	}
}

// RegisterUser handles user registration
func (ac *AuthController) RegisterUser(c *gin.Context) {
	var input struct {
		Username string          `json:"username" binding:"required,max=50"`
		Email    string          `json:"email" binding:"required,email"`
		Password string          `json:"password" binding:"required,min=6"`
		UserType models.UserType `json:"userType"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.UserType == "" {
		input.UserType = models.Resident
	}
	if !input.UserType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userType must be resident or authority"})
		return
	}
	if input.UserType == models.Authority && !ac.authoritySignup {
		c.JSON(http.StatusForbidden, gin.H{"error": "Authority accounts cannot be self-registered"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user := &models.User{
		Username: repository.Sanitize(input.Username),
		Email:    input.Email,
		Password: input.Password,
		UserType: input.UserType,
	}
	if err := ac.users.Create(ctx, user); err != nil {
		respondError(c, err)
		return
	}

	ac.provision(ctx, user)

	c.JSON(http.StatusCreated, user)
}

// LoginUser checks credentials and issues the session token
func (ac *AuthController) LoginUser(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := ac.users.FindByEmail(ctx, input.Email)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if !user.ComparePassword(input.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	ac.provision(ctx, user)

	token, err := authUtils.GenerateAndSetToken(c, user, ac.secret, ac.domain, ac.secure)
	if err != nil {
		log.Errorf("Error generating token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// provision never blocks sign-in; a missing profile is created again on the next login.
func (ac *AuthController) provision(ctx context.Context, user *models.User) {
	if _, err := ac.profiles.Ensure(ctx, user); err != nil {
		log.WithField("user", user.ID.Hex()).Errorf("profile provisioning failed: %v", err)
	}
}

// GetMe retrieves the authenticated user's information
func (ac *AuthController) GetMe(c *gin.Context) {
	userID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := ac.users.Get(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// LogoutUser clears the auth_token cookie
func (ac *AuthController) LogoutUser(c *gin.Context) {
	authUtils.ClearToken(c, ac.domain, ac.secure)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
