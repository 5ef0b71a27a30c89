package notify

import (
	"context"
	"fmt"

	"neighborhood-resolver/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"google.golang.org/api/option"
)

// Sender delivers one push message to a device.
type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// FCM sends through Firebase Cloud Messaging
type FCM struct {
	client *messaging.Client
}

func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Messaging: %w", err)
	}

	return &FCM{client: client}, nil
}

func (f *FCM) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	_, err := f.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("messaging.Send: %w", err)
	}
	return nil
}

// Noop is used when push credentials aren't configured.
type Noop struct{}

func (Noop) Send(context.Context, string, string, string, map[string]string) error { return nil }

// TokenSource looks up a user's registered device.
type TokenSource interface {
	DeviceToken(ctx context.Context, userID primitive.ObjectID) (string, error)
}

// StatusNotifier tells reporters when their issue changes status.
type StatusNotifier struct {
	tokens TokenSource
	sender Sender
}

func NewStatusNotifier(tokens TokenSource, sender Sender) *StatusNotifier {
	return &StatusNotifier{tokens: tokens, sender: sender}
}

// IssueStatusChanged is a no-op for reporters without a device token.
func (n *StatusNotifier) IssueStatusChanged(ctx context.Context, issue *models.Issue) error {
	token, err := n.tokens.DeviceToken(ctx, issue.ReporterID)
	if err != nil {
		return fmt.Errorf("tokens.DeviceToken: %w", err)
	}
	if token == "" {
		return nil
	}

	title, body := StatusMessage(issue)
	data := map[string]string{
		"issueId": issue.ID.Hex(),
		"status":  string(issue.Status),
	}
	return n.sender.Send(ctx, token, title, body, data)
}

// StatusMessage renders the push title and body for an issue's current status.
func StatusMessage(issue *models.Issue) (title, body string) {
	switch issue.Status {
	case models.InProgress:
		return "Work has started", fmt.Sprintf("%q is now being handled.", issue.Title)
	case models.Completed:
		if issue.Award != nil {
			return "Issue resolved", fmt.Sprintf("%q was resolved. You earned %d points!", issue.Title, issue.Award.Points)
		}
		return "Issue resolved", fmt.Sprintf("%q was resolved.", issue.Title)
	case models.Rejected:
		return "Report closed", fmt.Sprintf("%q was reviewed and closed.", issue.Title)
	default:
		return "Report received", fmt.Sprintf("%q is waiting for review.", issue.Title)
	}
}
