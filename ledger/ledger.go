package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neighborhood-resolver/models"
	"neighborhood-resolver/repository"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	EntriesCollection     = "ledger"
	RedemptionsCollection = "redemptions"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("not authorized to change balance")
	ErrTransient           = errors.New("ledger temporarily unavailable")
	ErrZeroDelta           = errors.New("delta must not be zero")
	ErrVoucherNotFound     = errors.New("voucher not found")
	ErrAlreadyRedeemed     = errors.New("voucher already redeemed")
)

// Reason describes why a balance changed.
type Reason struct {
	Kind      models.LedgerReason
	Reference string
}

// Ledger applies additive point changes to profiles. It does not deduplicate:
// callers that need at-most-once semantics must guard before calling Award.
type Ledger struct {
	profiles    *mongo.Collection
	entries     *mongo.Collection
	redemptions *mongo.Collection
	now         func() time.Time
}

func New(db *mongo.Database) *Ledger {
	return &Ledger{
		profiles:    db.Collection(repository.ProfilesCollection),
		entries:     db.Collection(EntriesCollection),
		redemptions: db.Collection(RedemptionsCollection),
		now:         time.Now,
	}
}

// Award adds delta to the user's balance and returns the new balance.
// A negative delta is applied only if the balance covers it; the check and the
// increment are one conditional update, so the balance never goes below zero.
func (l *Ledger) Award(ctx context.Context, userID primitive.ObjectID, delta int64, reason Reason) (int64, error) {
	if delta == 0 {
		return 0, ErrZeroDelta
	}

	now := l.now()
	filter := bson.M{"_id": userID}
	if delta < 0 {
		filter["points"] = bson.M{"$gte": -delta}
	}
	update := bson.M{
		"$inc": bson.M{"points": delta},
		"$set": bson.M{"updatedAt": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var profile models.Profile
	err := l.profiles.FindOneAndUpdate(ctx, filter, update, opts).Decode(&profile)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, classify(err)
		}
		if delta > 0 {
			return 0, ErrUserNotFound
		}
		return 0, l.explainMiss(ctx, userID)
	}

	entry := models.LedgerEntry{
		UserID:    userID,
		Delta:     delta,
		Balance:   profile.Points,
		Reason:    reason.Kind,
		Reference: reason.Reference,
		CreatedAt: now,
	}
	if _, err := l.entries.InsertOne(ctx, entry); err != nil {
		log.WithFields(log.Fields{
			"user":   userID.Hex(),
			"delta":  delta,
			"reason": reason.Kind,
		}).Errorf("ledger: balance updated but history entry not written: %v", err)
	}

	return profile.Points, nil
}

// explainMiss tells a missing profile apart from a balance that was too low.
func (l *Ledger) explainMiss(ctx context.Context, userID primitive.ObjectID) error {
	count, err := l.profiles.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return classify(err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return ErrInsufficientBalance
}

// Applied reports whether a change for reason is already in the history.
func (l *Ledger) Applied(ctx context.Context, reason Reason) (bool, error) {
	count, err := l.entries.CountDocuments(ctx, bson.M{"reason": reason.Kind, "reference": reason.Reference}, options.Count().SetLimit(1))
	if err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}

// History returns the user's most recent balance changes
func (l *Ledger) History(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.LedgerEntry, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit)

	cursor, err := l.entries.Find(ctx, bson.M{"userId": userID}, findOptions)
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	entries := []models.LedgerEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// Mongo server error codes for Unauthorized and AuthenticationFailed.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

func classify(err error) error {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == codeUnauthorized || cmdErr.Code == codeAuthenticationFailed) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
