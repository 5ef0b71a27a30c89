package controllers

import (
	"context"
	"net/http"
	"strconv"

	"neighborhood-resolver/middlewares"
	"neighborhood-resolver/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
	historyLimit           = 50
)

type ProfileStore interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Profile, error)
	SetDeviceToken(ctx context.Context, id primitive.ObjectID, token string) error
	Leaderboard(ctx context.Context, limit int64) ([]models.LeaderboardEntry, error)
}

type HistoryReader interface {
	History(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.LedgerEntry, error)
}

type UserController struct {
	profiles ProfileStore
	history  HistoryReader
}

func NewUserController(profiles ProfileStore, history HistoryReader) *UserController {
	return &UserController{profiles: profiles, history: history}
}

// GetProfile returns the caller's profile and point balance
func (uc *UserController) GetProfile(c *gin.Context) {
	userID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	profile, err := uc.profiles.Get(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// RegisterDevice stores the FCM token used for status notifications
func (uc *UserController) RegisterDevice(c *gin.Context) {
	userID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input struct {
		Token string `json:"token" binding:"required,max=4096"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := uc.profiles.SetDeviceToken(ctx, userID, input.Token); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (uc *UserController) GetHistory(c *gin.Context) {
	userID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	entries, err := uc.history.History(ctx, userID, historyLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GetLeaderboard ranks residents by points
func (uc *UserController) GetLeaderboard(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(defaultLeaderboardSize)), 10, 64)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive number"})
		return
	}
	limit = min(limit, maxLeaderboardSize)

	ctx, cancel := requestContext(c)
	defer cancel()

	entries, err := uc.profiles.Leaderboard(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
