package ledger

import (
	"context"
	"fmt"
	"time"

	"neighborhood-resolver/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const releaseTimeout = 5 * time.Second

// Redeem spends the voucher's cost from the user's balance. Each voucher can be
// redeemed once per user; the unique index on redemptions enforces it.
func (l *Ledger) Redeem(ctx context.Context, userID primitive.ObjectID, voucherID string) (*models.Redemption, int64, error) {
	voucher, ok := models.FindVoucher(voucherID)
	if !ok {
		return nil, 0, ErrVoucherNotFound
	}

	redemption := models.Redemption{
		ID:        uuid.NewString(),
		VoucherID: voucher.ID,
		UserID:    userID,
		Points:    voucher.Points,
		CreatedAt: l.now(),
	}

	if _, err := l.redemptions.InsertOne(ctx, redemption); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, 0, ErrAlreadyRedeemed
		}
		return nil, 0, classify(err)
	}

	balance, err := l.Award(ctx, userID, -voucher.Points, Reason{Kind: models.ReasonVoucherRedeemed, Reference: voucher.ID})
	if err != nil {
		if delErr := l.release(ctx, redemption.ID); delErr != nil {
			log.WithField("redemption", redemption.ID).Errorf("ledger: failed to release redemption after failed deduction: %v", delErr)
		}
		return nil, 0, fmt.Errorf("deduct %d points: %w", voucher.Points, err)
	}

	return &redemption, balance, nil
}

// release removes a redemption whose deduction failed. It runs even when the
// caller's context is already done.
func (l *Ledger) release(ctx context.Context, redemptionID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	_, err := l.redemptions.DeleteOne(ctx, bson.M{"_id": redemptionID})
	return err
}

// Catalog returns all vouchers with the user's redeemed flags set
func (l *Ledger) Catalog(ctx context.Context, userID primitive.ObjectID) ([]models.Voucher, error) {
	cursor, err := l.redemptions.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	var redemptions []models.Redemption
	if err := cursor.All(ctx, &redemptions); err != nil {
		return nil, classify(err)
	}

	redeemed := lo.SliceToMap(redemptions, func(r models.Redemption) (string, bool) { return r.VoucherID, true })
	return lo.Map(models.Vouchers, func(v models.Voucher, _ int) models.Voucher {
		v.Redeemed = redeemed[v.ID]
		return v
	}), nil
}
