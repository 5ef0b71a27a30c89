package models

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Voucher is a static reward catalog entry
type Voucher struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Points   int64  `json:"points"`
	Redeemed bool   `json:"redeemed"`
}

var Vouchers = []Voucher{
	{ID: "hospital-discount-10", Title: "10% Hospital Discount", Points: 100},
	{ID: "shopping-gift-card-50", Title: "Shopping Gift Card $50", Points: 200},
	{ID: "utility-bill-discount", Title: "Utility Bill Discount", Points: 150},
}

func FindVoucher(id string) (Voucher, bool) {
	for _, v := range Vouchers {
		if v.ID == id {
			return v, true
		}
	}
	return Voucher{}, false
}

// Redemption represents a user's redemption of a voucher
type Redemption struct {
	ID        string             `bson:"_id" json:"id"`
	VoucherID string             `bson:"voucherId" json:"voucherId"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Points    int64              `bson:"points" json:"points"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// EnsureRedemptionIndex creates a unique compound index for (voucherId, userId)
func EnsureRedemptionIndex(ctx context.Context, collection *mongo.Collection) error {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "voucherId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}
