package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"neighborhood-resolver/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const UsersCollection = "users"

var ErrEmailTaken = errors.New("user with this email already exists")

// Users stores credentials and the user_type discriminator.
type Users struct {
	coll *mongo.Collection
}

func NewUsers(db *mongo.Database) *Users {
	return &Users{coll: db.Collection(UsersCollection)}
}

// Create hashes the password and inserts the user
func (r *Users) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	count, err := r.coll.CountDocuments(ctx, bson.M{"email": user.Email})
	if err != nil {
		return fmt.Errorf("users.CountDocuments: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}

	if err := user.HashPassword(); err != nil {
		return fmt.Errorf("user.HashPassword: %w", err)
	}

	now := time.Now()
	user.ID = primitive.NewObjectID()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		// lost a race with a concurrent signup
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("users.InsertOne: %w", err)
	}
	return nil
}

func (r *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (r *Users) Get(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// Role reads the stored user type. This is the server-side capability check;
// token claims are only a hint.
func (r *Users) Role(ctx context.Context, id primitive.ObjectID) (models.UserType, error) {
	user, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return user.UserType, nil
}

func (r *Users) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users.FindOne: %w", err)
	}
	return &user, nil
}
