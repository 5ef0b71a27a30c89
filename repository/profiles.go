package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neighborhood-resolver/models"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ProfilesCollection = "profiles"

type Profiles struct {
	coll   *mongo.Collection
	issues *mongo.Collection
}

func NewProfiles(db *mongo.Database) *Profiles {
	return &Profiles{
		coll:   db.Collection(ProfilesCollection),
		issues: db.Collection(IssuesCollection),
	}
}

func (r *Profiles) Get(ctx context.Context, id primitive.ObjectID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&profile); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profiles.FindOne: %w", err)
	}
	return &profile, nil
}

// Ensure provisions the user's profile if it doesn't exist yet. Existing
// balances are never touched.
func (r *Profiles) Ensure(ctx context.Context, user *models.User) (*models.Profile, error) {
	now := time.Now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"username":  user.Username,
			"userType":  user.UserType,
			"points":    int64(0),
			"createdAt": now,
			"updatedAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var profile models.Profile
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": user.ID}, update, opts).Decode(&profile); err != nil {
		return nil, fmt.Errorf("profiles.FindOneAndUpdate: %w", err)
	}
	return &profile, nil
}

func (r *Profiles) SetDeviceToken(ctx context.Context, id primitive.ObjectID, token string) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"deviceToken": token, "updatedAt": time.Now()}})
	if err != nil {
		return fmt.Errorf("profiles.UpdateOne: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Profiles) DeviceToken(ctx context.Context, id primitive.ObjectID) (string, error) {
	profile, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return profile.DeviceToken, nil
}

// Names implements NameResolver
func (r *Profiles) Names(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	cursor, err := r.coll.Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"_id": 1, "username": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("profiles.Find: %w", err)
	}
	defer cursor.Close(ctx)

	var profiles []models.Profile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}

	return lo.SliceToMap(profiles, func(p models.Profile) (primitive.ObjectID, string) {
		return p.ID, p.Username
	}), nil
}

// Leaderboard ranks residents by points and attaches how many issues each reported
func (r *Profiles) Leaderboard(ctx context.Context, limit int64) ([]models.LeaderboardEntry, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "points", Value: -1}, {Key: "createdAt", Value: 1}}).
		SetLimit(limit)

	cursor, err := r.coll.Find(ctx, bson.M{"userType": models.Resident}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("profiles.Find: %w", err)
	}
	defer cursor.Close(ctx)

	var profiles []models.Profile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}

	counts, err := r.issueCounts(ctx, lo.Map(profiles, func(p models.Profile, _ int) primitive.ObjectID { return p.ID }))
	if err != nil {
		return nil, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, models.LeaderboardEntry{
			Rank:     i + 1,
			UserID:   p.ID,
			Username: p.Username,
			Points:   p.Points,
			Issues:   counts[p.ID],
		})
	}
	return entries, nil
}

func (r *Profiles) issueCounts(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"reporterId": bson.M{"$in": ids}}},
		{"$group": bson.M{"_id": "$reporterId", "count": bson.M{"$sum": 1}}},
	}

	cursor, err := r.issues.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("issues.Aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []reporterCount
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}

	return lo.SliceToMap(groups, func(g reporterCount) (primitive.ObjectID, int64) {
		return g.ID, g.Count
	}), nil
}

type reporterCount struct {
	ID    primitive.ObjectID `bson:"_id"`
	Count int64              `bson:"count"`
}
