package repository

import (
	"context"
	"fmt"
	"time"

	"neighborhood-resolver/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Analytics returns issue counts by status, per day for the last week, and open totals
func (r *Issues) Analytics(ctx context.Context) (*models.Analytics, error) {
	statusPipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   "$status",
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := r.coll.Aggregate(ctx, statusPipeline)
	if err != nil {
		return nil, fmt.Errorf("issues.Aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Status models.IssueStatus `bson:"_id"`
		Count  int64              `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}

	analytics := &models.Analytics{ByStatus: make(map[models.IssueStatus]int64, len(models.Statuses))}
	for _, status := range models.Statuses {
		analytics.ByStatus[status] = 0
	}
	for _, g := range groups {
		analytics.ByStatus[g.Status] = g.Count
		analytics.TotalIssues += g.Count
	}
	analytics.OpenIssues = analytics.ByStatus[models.Pending] + analytics.ByStatus[models.InProgress]

	// Get last 7 days data
	now := r.now()
	for i := 6; i >= 0; i-- {
		date := now.AddDate(0, 0, -i)
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

		count, err := r.coll.CountDocuments(ctx, bson.M{
			"createdAt": bson.M{
				"$gte": date,
				"$lt":  date.AddDate(0, 0, 1),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("issues.CountDocuments %s: %w", date.Format(DateLayout), err)
		}

		analytics.Last7Days = append(analytics.Last7Days, models.DayCount{
			Date:  date.Format(DateLayout),
			Count: count,
		})
	}

	return analytics, nil
}

// Markers returns the most recent issues whose location is a "lat,lng" pair
func (r *Issues) Markers(ctx context.Context, limit int64) ([]models.MapMarker, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"_id": 1, "title": 1, "location": 1, "status": 1, "createdAt": 1})

	// The regex only narrows candidates; Coordinates decides.
	cursor, err := r.coll.Find(ctx, bson.M{"location": bson.M{"$regex": ","}}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("issues.Find: %w", err)
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}

	markers := []models.MapMarker{}
	for _, issue := range issues {
		lat, lng, ok := models.Coordinates(issue.Location)
		if !ok {
			continue
		}
		markers = append(markers, models.MapMarker{
			ID:        issue.ID.Hex(),
			Title:     issue.Title,
			Status:    issue.Status,
			Latitude:  lat,
			Longitude: lng,
			CreatedAt: issue.CreatedAt,
		})
	}

	return markers, nil
}
