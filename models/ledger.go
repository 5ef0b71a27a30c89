package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LedgerReason string

const (
	ReasonIssueResolved   LedgerReason = "issue_resolved"
	ReasonVoucherRedeemed LedgerReason = "voucher_redeemed"
)

// LedgerEntry records one applied balance change.
type LedgerEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Delta     int64              `bson:"delta" json:"delta"`
	Balance   int64              `bson:"balance" json:"balance"`
	Reason    LedgerReason       `bson:"reason" json:"reason"`
	Reference string             `bson:"reference" json:"reference"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
