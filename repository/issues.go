package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neighborhood-resolver/models"
	"neighborhood-resolver/storage"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	IssuesCollection = "issues"

	DateLayout = "2006-01-02"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrValidation         = errors.New("validation failed")
)

// NameResolver maps reporter ids to display names.
type NameResolver interface {
	Names(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
}

type Issues struct {
	coll  *mongo.Collection
	names NameResolver
	blobs storage.BlobStore
	now   func() time.Time
}

// NewIssues builds the issue repository. blobs may be nil, in which case
// attached images are dropped.
func NewIssues(db *mongo.Database, names NameResolver, blobs storage.BlobStore) *Issues {
	return &Issues{
		coll:  db.Collection(IssuesCollection),
		names: names,
		blobs: blobs,
		now:   time.Now,
	}
}

// Create stores a new pending issue. The image, if any, is uploaded before the
// record write; an upload failure only drops the image.
func (r *Issues) Create(ctx context.Context, draft models.IssueDraft) (*models.Issue, error) {
	draft.Title = Sanitize(draft.Title)
	draft.Description = Sanitize(draft.Description)
	draft.Location = Sanitize(draft.Location)

	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := r.now()
	issue := models.Issue{
		ID:          primitive.NewObjectID(),
		Title:       draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Status:      models.Pending,
		ReporterID:  draft.ReporterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if draft.Image != nil {
		issue.ImageURL = r.uploadImage(ctx, draft.ReporterID, draft.Image)
	}

	if _, err := r.coll.InsertOne(ctx, issue); err != nil {
		return nil, fmt.Errorf("issues.InsertOne: %w", err)
	}

	r.resolve(ctx, []*models.Issue{&issue})
	return &issue, nil
}

func (r *Issues) uploadImage(ctx context.Context, reporterID primitive.ObjectID, image *models.ImageUpload) *string {
	if r.blobs == nil {
		log.Warn("issues: image attached but blob storage is not configured")
		return nil
	}

	path := storage.ObjectPath(reporterID.Hex(), image.Filename)
	stored, err := r.blobs.Upload(ctx, path, image.Data, image.ContentType)
	if err != nil {
		log.WithField("reporter", reporterID.Hex()).Errorf("issues: image upload failed, creating issue without image: %v", err)
		return nil
	}

	return lo.ToPtr(r.blobs.PublicURL(stored))
}

// Get retrieves an issue by its ID
func (r *Issues) Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&issue)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("issues.FindOne: %w", err)
	}

	r.resolve(ctx, []*models.Issue{&issue})
	return &issue, nil
}

// ListByReporter returns the reporter's issues, newest first
func (r *Issues) ListByReporter(ctx context.Context, reporterID primitive.ObjectID) ([]models.Issue, error) {
	return r.find(ctx, bson.M{"reporterId": reporterID}, options.Find())
}

// ListAll returns one page of issues matching filter, newest first.
func (r *Issues) ListAll(ctx context.Context, filter Filter) (*Page, error) {
	filter = filter.Normalize()
	query := filter.Query()

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("issues.CountDocuments: %w", err)
	}

	issues, err := r.find(ctx, query, options.Find().
		SetSkip((filter.Page-1)*filter.Limit).
		SetLimit(filter.Limit))
	if err != nil {
		return nil, err
	}

	return &Page{
		Issues:      issues,
		Total:       total,
		TotalPages:  (total + filter.Limit - 1) / filter.Limit,
		CurrentPage: filter.Page,
	}, nil
}

func (r *Issues) find(ctx context.Context, filter bson.M, findOptions *options.FindOptions) ([]models.Issue, error) {
	findOptions.SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("issues.Find: %w", err)
	}
	defer cursor.Close(ctx)

	issues := []models.Issue{}
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}

	r.resolve(ctx, lo.Map(issues, func(_ models.Issue, i int) *models.Issue { return &issues[i] }))
	return issues, nil
}

// UpdateStatus overwrites the status without any precondition (last write wins).
// Status changes that may award points go through CompareAndSetStatus.
func (r *Issues) UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.IssueStatus) (*models.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return r.findAndSet(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status, "updatedAt": r.now()}}, ErrNotFound)
}

// CompareAndSetStatus moves the issue to `to` only if its current status is one
// of `from`, in a single conditional update. award, when set, is written in the
// same update. Returns ErrPreconditionFailed when nothing matched.
func (r *Issues) CompareAndSetStatus(ctx context.Context, id primitive.ObjectID, from []models.IssueStatus, to models.IssueStatus, award *models.Award) (*models.Issue, error) {
	set := bson.M{"status": to, "updatedAt": r.now()}
	if award != nil {
		set["award"] = award
	}

	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	return r.findAndSet(ctx, filter, bson.M{"$set": set}, ErrPreconditionFailed)
}

// ClaimAward moves a pending or failed award to applying. An award already in
// applying is claimed again only if it was last touched before leaseExpired.
// Only one caller can win the claim.
func (r *Issues) ClaimAward(ctx context.Context, id primitive.ObjectID, leaseExpired time.Time) (*models.Issue, error) {
	filter := bson.M{"_id": id, "$or": retryable(leaseExpired)}
	update := bson.M{
		"$set": bson.M{"award.state": models.AwardApplying, "award.updatedAt": r.now()},
		"$inc": bson.M{"award.attempts": 1},
	}
	return r.findAndSet(ctx, filter, update, ErrPreconditionFailed)
}

func retryable(leaseExpired time.Time) []bson.M {
	return []bson.M{
		{"award.state": bson.M{"$in": []models.AwardState{models.AwardPending, models.AwardFailed}}},
		{"award.state": models.AwardApplying, "award.updatedAt": bson.M{"$lt": leaseExpired}},
	}
}

// SettleAward records the outcome of a claimed award.
func (r *Issues) SettleAward(ctx context.Context, id primitive.ObjectID, state models.AwardState, lastErr string) error {
	filter := bson.M{"_id": id, "award.state": models.AwardApplying}
	update := bson.M{"$set": bson.M{
		"award.state":     state,
		"award.lastError": lastErr,
		"award.updatedAt": r.now(),
	}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("issues.UpdateOne: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

// PendingAwards lists issues whose award is pending, failed or applying and
// untouched since olderThan.
func (r *Issues) PendingAwards(ctx context.Context, olderThan time.Time) ([]models.Issue, error) {
	filter := bson.M{
		"award.state":     bson.M{"$in": []models.AwardState{models.AwardPending, models.AwardFailed, models.AwardApplying}},
		"award.updatedAt": bson.M{"$lt": olderThan},
	}

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetLimit(100))
	if err != nil {
		return nil, fmt.Errorf("issues.Find: %w", err)
	}
	defer cursor.Close(ctx)

	issues := []models.Issue{}
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, fmt.Errorf("cursor.All: %w", err)
	}
	return issues, nil
}

func (r *Issues) findAndSet(ctx context.Context, filter, update bson.M, notMatched error) (*models.Issue, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var issue models.Issue
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&issue)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notMatched
		}
		return nil, fmt.Errorf("issues.FindOneAndUpdate: %w", err)
	}

	r.resolve(ctx, []*models.Issue{&issue})
	return &issue, nil
}

// resolve fills in display-only fields. A failed name lookup degrades to the
// anonymous label instead of failing the read.
func (r *Issues) resolve(ctx context.Context, issues []*models.Issue) {
	if len(issues) == 0 {
		return
	}

	var names map[primitive.ObjectID]string
	if r.names != nil {
		ids := lo.Uniq(lo.Map(issues, func(issue *models.Issue, _ int) primitive.ObjectID { return issue.ReporterID }))

		var err error
		if names, err = r.names.Names(ctx, ids); err != nil {
			log.Warnf("issues: reporter lookup failed: %v", err)
		}
	}

	for _, issue := range issues {
		issue.Reporter = models.AnonymousReporter
		if name := names[issue.ReporterID]; name != "" {
			issue.Reporter = name
		}
		issue.CreatedDate = issue.CreatedAt.Format(DateLayout)
	}
}
