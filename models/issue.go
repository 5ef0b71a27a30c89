package models

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// IssueStatus enum
type IssueStatus string

const (
	Pending    IssueStatus = "pending"
	InProgress IssueStatus = "in_progress"
	Completed  IssueStatus = "completed"
	Rejected   IssueStatus = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []IssueStatus{Pending, InProgress, Completed, Rejected}

func (s IssueStatus) Valid() bool {
	switch s {
	case Pending, InProgress, Completed, Rejected:
		return true
	}
	return false
}

// Terminal reports whether no further side-effecting transition is expected.
func (s IssueStatus) Terminal() bool {
	return s == Completed || s == Rejected
}

// AwardState tracks the point award attached to a completed issue.
type AwardState string

const (
	AwardPending  AwardState = "pending"
	AwardApplying AwardState = "applying"
	AwardApplied  AwardState = "applied"
	AwardFailed   AwardState = "failed"
)

// Award is written together with the transition to completed, so at most one
// award ever exists per issue.
type Award struct {
	Points    int64              `bson:"points" json:"points"`
	State     AwardState         `bson:"state" json:"state"`
	Attempts  int                `bson:"attempts" json:"attempts"`
	LastError string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	AwardedBy primitive.ObjectID `bson:"awardedBy" json:"awardedBy"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Issue represents a neighborhood problem reported by a resident
type Issue struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	Location    string             `bson:"location" json:"location"`
	ImageURL    *string            `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Status      IssueStatus        `bson:"status" json:"status"`
	ReporterID  primitive.ObjectID `bson:"reporterId" json:"reporterId"`
	Award       *Award             `bson:"award,omitempty" json:"award,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`

	// Filled in when listing, never stored.
	Reporter    string `bson:"-" json:"reporter"`
	CreatedDate string `bson:"-" json:"date"`
}

// ImageUpload is the raw photo attached to a new report.
type ImageUpload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// IssueDraft is what a resident submits.
type IssueDraft struct {
	Title       string             `validate:"required,max=200"`
	Description string             `validate:"required,max=1000"`
	Location    string             `validate:"required,max=200"`
	ReporterID  primitive.ObjectID `validate:"required"`
	Image       *ImageUpload
}

func (d *IssueDraft) Validate() error {
	return validator.New().Struct(d)
}

// Coordinates parses a "lat,lng" location. Free-text locations return ok=false.
func Coordinates(location string) (lat, lng float64, ok bool) {
	parts := strings.Split(location, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, false
	}

	return lat, lng, true
}

// MapMarker is an issue placed on the map view.
type MapMarker struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    IssueStatus `json:"status"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Analytics summarises issue volume for the authority dashboard.
type Analytics struct {
	ByStatus    map[IssueStatus]int64 `json:"issuesByStatus"`
	Last7Days   []DayCount            `json:"last7Days"`
	TotalIssues int64                 `json:"totalIssues"`
	OpenIssues  int64                 `json:"openIssues"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// EnsureIssueIndexes creates the indexes used by reporter listings and the award retry job
func EnsureIssueIndexes(ctx context.Context, collection *mongo.Collection) error {
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reporterId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "award.state", Value: 1}, {Key: "award.updatedAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("issues.Indexes.CreateMany: %w", err)
	}
	return nil
}
