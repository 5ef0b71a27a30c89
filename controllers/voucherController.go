package controllers

import (
	"context"
	"net/http"
	"time"

	"neighborhood-resolver/middlewares"
	"neighborhood-resolver/models"
	"neighborhood-resolver/workflow"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Redeemer interface {
	Catalog(ctx context.Context, userID primitive.ObjectID) ([]models.Voucher, error)
	Redeem(ctx context.Context, userID primitive.ObjectID, voucherID string) (*models.Redemption, int64, error)
}

type VoucherController struct {
	ledger    Redeemer
	publisher workflow.Publisher
}

func NewVoucherController(ledger Redeemer, publisher workflow.Publisher) *VoucherController {
	return &VoucherController{ledger: ledger, publisher: publisher}
}

// GetVouchers lists the catalog with the caller's redeemed flags
func (vc *VoucherController) GetVouchers(c *gin.Context) {
	userID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	vouchers, err := vc.ledger.Catalog(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"vouchers": vouchers})
}

// RedeemVoucher spends points on a voucher. Insufficient balance is a 409.
func (vc *VoucherController) RedeemVoucher(c *gin.Context) {
	userID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	redemption, balance, err := vc.ledger.Redeem(ctx, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	event := models.ChangeEvent{Kind: models.ProfileUpdated, ID: userID.Hex(), At: time.Now()}
	if err := vc.publisher.Publish(ctx, event); err != nil {
		log.WithField("user", userID.Hex()).Warnf("publish profile.updated: %v", err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"redemption": redemption,
		"points":     balance,
	})
}
