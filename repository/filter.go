package repository

import (
	"html"
	"regexp"
	"strings"

	"neighborhood-resolver/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var policy = bluemonday.StrictPolicy()

// Sanitize strips markup from user-supplied text. The policy escapes what it
// keeps, so entities are decoded again before storing.
func Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}

// Filter narrows an issue listing. An empty or "all" status matches everything.
type Filter struct {
	Search string             `form:"search"`
	Status models.IssueStatus `form:"status"`
	Page   int64              `form:"page"`
	Limit  int64              `form:"limit"`
}

// Normalize clamps paging to page >= 1 and 1..MaxPageSize per page.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > MaxPageSize {
		f.Limit = DefaultPageSize
	}
	return f
}

// Query builds the Mongo filter: a case-insensitive substring search over
// title, description and location, plus an exact status match.
func (f Filter) Query() bson.M {
	query := bson.M{}

	if status := f.Status; status != "" && status != "all" {
		query["status"] = status
	}

	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(search), "$options": "i"}
		query["$or"] = lo.Map([]string{"title", "description", "location"}, func(field string, _ int) bson.M {
			return bson.M{field: pattern}
		})
	}

	return query
}

// Page is one page of a filtered listing. Total counts every match.
type Page struct {
	Issues      []models.Issue `json:"issues"`
	Total       int64          `json:"total"`
	TotalPages  int64          `json:"totalPages"`
	CurrentPage int64          `json:"currentPage"`
}
