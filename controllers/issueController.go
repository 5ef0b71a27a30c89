package controllers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"neighborhood-resolver/middlewares"
	"neighborhood-resolver/models"
	"neighborhood-resolver/repository"
	"neighborhood-resolver/workflow"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	maxImageBytes     = 5 << 20
	defaultMapMarkers = 200
)

type IssueStore interface {
	Create(ctx context.Context, draft models.IssueDraft) (*models.Issue, error)
	Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	ListByReporter(ctx context.Context, reporterID primitive.ObjectID) ([]models.Issue, error)
	ListAll(ctx context.Context, filter repository.Filter) (*repository.Page, error)
	Analytics(ctx context.Context) (*models.Analytics, error)
	Markers(ctx context.Context, limit int64) ([]models.MapMarker, error)
}

type StatusWorkflow interface {
	Transition(ctx context.Context, issueID primitive.ObjectID, target models.IssueStatus, actorID primitive.ObjectID, opts workflow.TransitionOptions) (*workflow.Outcome, error)
	RetryAward(ctx context.Context, issueID, actorID primitive.ObjectID) (*workflow.Outcome, error)
}

type IssueController struct {
	issues    IssueStore
	workflow  StatusWorkflow
	publisher workflow.Publisher
}

func NewIssueController(issues IssueStore, wf StatusWorkflow, publisher workflow.Publisher) *IssueController {
	return &IssueController{issues: issues, workflow: wf, publisher: publisher}
}

type issueInput struct {
	Title       string `json:"title" form:"title" binding:"required,max=200"`
	Description string `json:"description" form:"description" binding:"required,max=1000"`
	Location    string `json:"location" form:"location" binding:"required,max=200"`
}

// CreateIssue accepts JSON or a multipart form with an optional image field
func (ic *IssueController) CreateIssue(c *gin.Context) {
	reporterID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input issueInput
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	draft := models.IssueDraft{
		Title:       input.Title,
		Description: input.Description,
		Location:    input.Location,
		ReporterID:  reporterID,
	}

	if header, err := c.FormFile("image"); err == nil {
		image, err := readImage(header)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		draft.Image = image
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issue, err := ic.issues.Create(ctx, draft)
	if err != nil {
		respondError(c, err)
		return
	}

	event := models.ChangeEvent{Kind: models.IssueCreated, ID: issue.ID.Hex(), Status: issue.Status, At: time.Now()}
	if err := ic.publisher.Publish(ctx, event); err != nil {
		log.WithField("issue", issue.ID.Hex()).Warnf("publish issue.created: %v", err)
	}

	c.JSON(http.StatusCreated, issue)
}

func readImage(header *multipart.FileHeader) (*models.ImageUpload, error) {
	if header.Size > maxImageBytes {
		return nil, fmt.Errorf("image larger than %d MB", maxImageBytes>>20)
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &models.ImageUpload{Data: data, ContentType: contentType, Filename: header.Filename}, nil
}

// GetAllIssues supports ?search=, ?status=, ?page= and ?limit=
func (ic *IssueController) GetAllIssues(c *gin.Context) {
	var filter repository.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	page, err := ic.issues.ListAll(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetMyIssues lists the caller's reports
func (ic *IssueController) GetMyIssues(c *gin.Context) {
	reporterID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issues, err := ic.issues.ListByReporter(ctx, reporterID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"issues": issues, "total": len(issues)})
}

func (ic *IssueController) GetIssue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issue, err := ic.issues.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, issue)
}

// UpdateIssueStatus runs a status transition for an authority user
func (ic *IssueController) UpdateIssueStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actorID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input struct {
		Status models.IssueStatus `json:"status" binding:"required"`
		Points int64              `json:"points"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	outcome, err := ic.workflow.Transition(ctx, id, input.Status, actorID, workflow.TransitionOptions{Points: input.Points})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// RetryAward re-applies a failed award without touching the status
func (ic *IssueController) RetryAward(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actorID, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	outcome, err := ic.workflow.RetryAward(ctx, id, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// GetAnalytics returns dashboard counts
func (ic *IssueController) GetAnalytics(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	analytics, err := ic.issues.Analytics(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, analytics)
}

func (ic *IssueController) GetMapMarkers(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(defaultMapMarkers)), 10, 64)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive number"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	markers, err := ic.issues.Markers(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"markers": markers})
}
