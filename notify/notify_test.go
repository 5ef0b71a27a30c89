package notify

import (
	"context"
	"errors"
	"testing"

	"neighborhood-resolver/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type tokens map[primitive.ObjectID]string

func (t tokens) DeviceToken(_ context.Context, id primitive.ObjectID) (string, error) {
	token, ok := t[id]
	if !ok {
		return "", errors.New("no profile")
	}
	return token, nil
}

type sent struct {
	token, title, body string
	data               map[string]string
}

type recorder struct{ messages []sent }

func (r *recorder) Send(_ context.Context, token, title, body string, data map[string]string) error {
	r.messages = append(r.messages, sent{token, title, body, data})
	return nil
}

func TestIssueStatusChanged(t *testing.T) {
	withDevice := primitive.NewObjectID()
	withoutDevice := primitive.NewObjectID()
	rec := &recorder{}
	n := NewStatusNotifier(tokens{withDevice: "device-1", withoutDevice: ""}, rec)

	issue := &models.Issue{
		ID:         primitive.NewObjectID(),
		Title:      "Pothole on Main",
		Status:     models.Completed,
		ReporterID: withDevice,
		Award:      &models.Award{Points: 50},
	}
	require.NoError(t, n.IssueStatusChanged(context.Background(), issue))
	require.Len(t, rec.messages, 1)
	assert.Equal(t, "device-1", rec.messages[0].token)
	assert.Equal(t, "Issue resolved", rec.messages[0].title)
	assert.Contains(t, rec.messages[0].body, "50 points")
	assert.Equal(t, issue.ID.Hex(), rec.messages[0].data["issueId"])
	assert.Equal(t, "completed", rec.messages[0].data["status"])

	issue.ReporterID = withoutDevice
	require.NoError(t, n.IssueStatusChanged(context.Background(), issue))
	assert.Len(t, rec.messages, 1)

	issue.ReporterID = primitive.NewObjectID()
	assert.Error(t, n.IssueStatusChanged(context.Background(), issue))
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		status models.IssueStatus
		title  string
	}{
		{models.Pending, "Report received"},
		{models.InProgress, "Work has started"},
		{models.Completed, "Issue resolved"},
		{models.Rejected, "Report closed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			title, body := StatusMessage(&models.Issue{Title: "Broken Light", Status: tt.status})
			assert.Equal(t, tt.title, title)
			assert.Contains(t, body, `"Broken Light"`)
		})
	}
}
