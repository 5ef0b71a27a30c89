package repository

import (
	"regexp"
	"testing"

	"neighborhood-resolver/models"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// matches evaluates a Filter.Query the way the server would for the fields it uses.
func matches(t *testing.T, query bson.M, issue models.Issue) bool {
	t.Helper()
	if status, ok := query["status"]; ok && status != issue.Status {
		return false
	}
	branches, ok := query["$or"].([]bson.M)
	if !ok {
		return true
	}
	fields := map[string]string{"title": issue.Title, "description": issue.Description, "location": issue.Location}
	return lo.SomeBy(branches, func(branch bson.M) bool {
		for field, cond := range branch {
			pattern := cond.(bson.M)
			require.Equal(t, "i", pattern["$options"])
			if regexp.MustCompile("(?i)" + pattern["$regex"].(string)).MatchString(fields[field]) {
				return true
			}
		}
		return false
	})
}

func TestFilterQuery(t *testing.T) {
	issues := []models.Issue{
		{Title: "Pothole on Main", Description: "Deep hole", Location: "Main St", Status: models.Pending},
		{Title: "Broken Light", Description: "Dark corner", Location: "Elm St", Status: models.InProgress},
		{Title: "Graffiti", Description: "Near the POTHOLE repair", Location: "3rd Ave", Status: models.Completed},
		{Title: "Sign (bent)", Description: "Stop sign", Location: "1st.Ave", Status: models.Pending},
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "no filter", filter: Filter{}, want: []string{"Pothole on Main", "Broken Light", "Graffiti", "Sign (bent)"}},
		{name: "title search ignores case", filter: Filter{Search: "pothole", Status: models.Pending}, want: []string{"Pothole on Main"}},
		{name: "search covers description", filter: Filter{Search: "pothole"}, want: []string{"Pothole on Main", "Graffiti"}},
		{name: "search covers location", filter: Filter{Search: "elm"}, want: []string{"Broken Light"}},
		{name: "status only", filter: Filter{Status: models.InProgress}, want: []string{"Broken Light"}},
		{name: "all status", filter: Filter{Search: "light", Status: "all"}, want: []string{"Broken Light"}},
		{name: "search is literal", filter: Filter{Search: "(bent)"}, want: []string{"Sign (bent)"}},
		{name: "dot is not a wildcard", filter: Filter{Search: "t.A"}, want: []string{"Sign (bent)"}},
		{name: "no match", filter: Filter{Search: "flood"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := tt.filter.Query()
			got := lo.Filter(issues, func(issue models.Issue, _ int) bool { return matches(t, query, issue) })
			assert.Equal(t, tt.want, lo.Map(got, func(issue models.Issue, _ int) string { return issue.Title }))
		})
	}
}

func TestFilterNormalize(t *testing.T) {
	assert.Equal(t, Filter{Page: 1, Limit: DefaultPageSize}, Filter{}.Normalize())
	assert.Equal(t, Filter{Page: 3, Limit: 25}, Filter{Page: 3, Limit: 25}.Normalize())
	assert.Equal(t, Filter{Page: 1, Limit: DefaultPageSize}, Filter{Page: -2, Limit: 500}.Normalize())
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Pothole", Sanitize("  <b>Pothole</b> "))
	assert.Equal(t, "", Sanitize("<script>alert(1)</script>"))
	assert.Equal(t, "Light out at 5th & Main", Sanitize("Light out at 5th & Main"))
	assert.Equal(t, `Sign says "STOP"`, Sanitize(`Sign says "STOP"`))
	assert.Equal(t, "O'Neil St", Sanitize("O'Neil St"))
	assert.Equal(t, "a < b", Sanitize("a &lt; b"))
}
