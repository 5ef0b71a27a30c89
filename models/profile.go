package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnonymousReporter is shown when a reporter's profile can't be resolved.
const AnonymousReporter = "Anonymous"

// Profile is keyed by the auth identity and holds the point balance.
// Points only change through the ledger.
type Profile struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	Username    string             `bson:"username" json:"username"`
	UserType    UserType           `bson:"userType" json:"userType"`
	Points      int64              `bson:"points" json:"points"`
	DeviceToken string             `bson:"deviceToken,omitempty" json:"-"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type LeaderboardEntry struct {
	Rank     int                `json:"rank"`
	UserID   primitive.ObjectID `json:"id"`
	Username string             `json:"name"`
	Points   int64              `json:"points"`
	Issues   int64              `json:"issues"`
}
