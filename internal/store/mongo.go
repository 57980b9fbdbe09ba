package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
)

const (
	peopleCollection    = "people"
	referralsCollection = "referrals"
	jobsCollection      = "jobs"

	defaultDatabase = "network_scout"
)

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Mongo is the production Store.
type Mongo struct {
	client    *mongo.Client
	people    *mongo.Collection
	referrals *mongo.Collection
	jobs      *mongo.Collection
	logger    *zap.Logger
}

type jobDocument struct {
	ID                bson.ObjectID `bson:"_id,omitempty"`
	domain.JobPosting `bson:",inline"`
}

// NewMongo connects, pings and makes sure the indexes exist.
func NewMongo(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*Mongo, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:    client,
		people:    db.Collection(peopleCollection),
		referrals: db.Collection(referralsCollection),
		jobs:      db.Collection(jobsCollection),
		logger:    logger,
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("connected to mongo", zap.String("database", cfg.Database))
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := m.people.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "platform_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "handle", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create people indexes: %w", err)
	}

	if _, err := m.referrals.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create referral indexes: %w", err)
	}

	if _, err := m.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create job indexes: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func byID(platformID string) bson.D {
	return bson.D{{Key: "platform_id", Value: platformID}}
}

func (m *Mongo) CreateCandidate(ctx context.Context, c *domain.Candidate) error {
	now := time.Now().UTC()
	doc := *c
	doc.Handle = domain.NormalizeHandle(doc.Handle)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if _, err := m.people.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("candidate %s: %w", c.PlatformID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert candidate %s: %w", c.PlatformID, err)
	}
	return nil
}

func (m *Mongo) GetCandidate(ctx context.Context, platformID string) (*domain.Candidate, error) {
	return m.findOne(ctx, byID(platformID), "candidate "+platformID)
}

func (m *Mongo) FindByHandle(ctx context.Context, handle string) (*domain.Candidate, error) {
	handle = domain.NormalizeHandle(handle)
	if handle == "" {
		return nil, fmt.Errorf("empty handle: %w", ErrNotFound)
	}
	return m.findOne(ctx, bson.D{{Key: "handle", Value: handle}}, fmt.Sprintf("handle %q", handle))
}

func (m *Mongo) findOne(ctx context.Context, filter bson.D, what string) (*domain.Candidate, error) {
	var c domain.Candidate
	err := m.people.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	return &c, nil
}

func (m *Mongo) ListByState(ctx context.Context, states ...domain.State) ([]*domain.Candidate, error) {
	filter := bson.D{}
	if len(states) > 0 {
		filter = bson.D{{Key: "state", Value: bson.D{{Key: "$in", Value: states}}}}
	}

	cursor, err := m.people.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	var out []*domain.Candidate
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}

// updateOne applies update to the candidate matching filter and reports ErrNotFound or ErrStateConflict
// when nothing matched.
func (m *Mongo) updateOne(ctx context.Context, platformID string, filter, update bson.D) error {
	update = append(update, bson.E{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}})

	res, err := m.people.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update candidate %s: %w", platformID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := m.people.CountDocuments(ctx, byID(platformID))
	if err != nil {
		return fmt.Errorf("count candidate %s: %w", platformID, err)
	}
	if n == 0 {
		return fmt.Errorf("candidate %s: %w", platformID, ErrNotFound)
	}
	return fmt.Errorf("candidate %s: %w", platformID, ErrStateConflict)
}

func (m *Mongo) Transition(ctx context.Context, platformID string, from, to domain.State) error {
	if _, err := domain.Transition(from, to); err != nil {
		return err
	}
	filter := bson.D{{Key: "platform_id", Value: platformID}, {Key: "state", Value: from}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "state", Value: to}}}}
	return m.updateOne(ctx, platformID, filter, update)
}

func (m *Mongo) Readmit(ctx context.Context, platformID string) error {
	filter := bson.D{{Key: "platform_id", Value: platformID}, {Key: "state", Value: domain.StateStalled}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "state", Value: domain.StateGathering},
		{Key: "gather_attempts", Value: 0},
		{Key: "last_gather_pass_at", Value: time.Now().UTC()},
	}}}
	return m.updateOne(ctx, platformID, filter, update)
}

// unsetField matches documents where the field is missing or empty.
func unsetField(field string) bson.E {
	return bson.E{Key: "$or", Value: bson.A{
		bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: field, Value: ""}},
	}}
}

func (m *Mongo) MergeExtracted(ctx context.Context, platformID string, incoming domain.Extracted) (domain.Extracted, bool, error) {
	current, err := m.GetCandidate(ctx, platformID)
	if err != nil {
		return domain.Extracted{}, false, err
	}

	changed := false
	scalars := []struct{ field, value string }{
		{"extracted.github_username", incoming.GithubUsername},
		{"extracted.email", incoming.Email},
	}
	for _, s := range scalars {
		if s.value == "" {
			continue
		}
		filter := bson.D{{Key: "platform_id", Value: platformID}, unsetField(s.field)}
		update := bson.D{
			{Key: "$set", Value: bson.D{{Key: s.field, Value: s.value}}},
			{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}},
		}
		res, err := m.people.UpdateOne(ctx, filter, update)
		if err != nil {
			return domain.Extracted{}, false, fmt.Errorf("merge %s for %s: %w", s.field, platformID, err)
		}
		changed = changed || res.ModifiedCount > 0
	}

	soft := newSkills(current.Extracted.SoftSkills, incoming.SoftSkills)
	hard := newSkills(current.Extracted.HardSkills, incoming.HardSkills)
	if len(soft) > 0 || len(hard) > 0 {
		add := bson.D{}
		if len(soft) > 0 {
			add = append(add, bson.E{Key: "extracted.soft_skills", Value: bson.D{{Key: "$each", Value: soft}}})
		}
		if len(hard) > 0 {
			add = append(add, bson.E{Key: "extracted.hard_skills", Value: bson.D{{Key: "$each", Value: hard}}})
		}
		update := bson.D{
			{Key: "$addToSet", Value: add},
			{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}},
		}
		res, err := m.people.UpdateOne(ctx, byID(platformID), update)
		if err != nil {
			return domain.Extracted{}, false, fmt.Errorf("merge skills for %s: %w", platformID, err)
		}
		changed = changed || res.ModifiedCount > 0
	}

	if !changed {
		return current.Extracted, false, nil
	}

	updated, err := m.GetCandidate(ctx, platformID)
	if err != nil {
		return domain.Extracted{}, false, err
	}
	return updated.Extracted, true, nil
}

func (m *Mongo) SetReferral(ctx context.Context, platformID, referrerID, code string) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "referrer_id", Value: referrerID},
		{Key: "referral_code", Value: code},
	}}}
	return m.updateOne(ctx, platformID, byID(platformID), update)
}

func (m *Mongo) incAndReturn(ctx context.Context, platformID string, update bson.D) (*domain.Candidate, error) {
	update = append(update, bson.E{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}})

	var c domain.Candidate
	err := m.people.FindOneAndUpdate(ctx, byID(platformID), update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("candidate %s: %w", platformID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update candidate %s: %w", platformID, err)
	}
	return &c, nil
}

func (m *Mongo) IncInquireTurns(ctx context.Context, platformID string) (int, error) {
	c, err := m.incAndReturn(ctx, platformID, bson.D{{Key: "$inc", Value: bson.D{{Key: "inquire_turns", Value: 1}}}})
	if err != nil {
		return 0, err
	}
	return c.InquireTurns, nil
}

func (m *Mongo) RecordGatherPass(ctx context.Context, platformID string, progressed bool, at time.Time) (int, error) {
	update := bson.D{}
	if progressed {
		update = append(update, bson.E{Key: "$set", Value: bson.D{
			{Key: "gather_attempts", Value: 0},
			{Key: "last_gather_pass_at", Value: at},
		}})
	} else {
		update = append(update,
			bson.E{Key: "$inc", Value: bson.D{{Key: "gather_attempts", Value: 1}}},
			bson.E{Key: "$set", Value: bson.D{{Key: "last_gather_pass_at", Value: at}}},
		)
	}

	c, err := m.incAndReturn(ctx, platformID, update)
	if err != nil {
		return 0, err
	}
	return c.GatherAttempts, nil
}

func (m *Mongo) SetJobMatch(ctx context.Context, platformID string, match *domain.JobMatch) error {
	if match == nil {
		return m.ClearJobMatch(ctx, platformID)
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "current_job_match", Value: match}}}}
	return m.updateOne(ctx, platformID, byID(platformID), update)
}

func (m *Mongo) ClearJobMatch(ctx context.Context, platformID string) error {
	update := bson.D{{Key: "$unset", Value: bson.D{{Key: "current_job_match", Value: ""}}}}
	return m.updateOne(ctx, platformID, byID(platformID), update)
}

func (m *Mongo) SetEvaluation(ctx context.Context, platformID string, score int, comments string) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "fit_score", Value: score},
		{Key: "evaluation_comments", Value: comments},
	}}}
	return m.updateOne(ctx, platformID, byID(platformID), update)
}

func (m *Mongo) SetIssue(ctx context.Context, platformID, issue string) error {
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "issue", Value: issue}}}}
	return m.updateOne(ctx, platformID, byID(platformID), update)
}

func (m *Mongo) CreateJob(ctx context.Context, job *domain.JobPosting) error {
	if job.Status == "" {
		job.Status = domain.JobNotStarted
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	doc := jobDocument{ID: bson.NewObjectID(), JobPosting: *job}
	if _, err := m.jobs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.ID = doc.ID.Hex()
	return nil
}

func jobFilter(id string) (bson.D, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return bson.D{{Key: "_id", Value: oid}}, nil
}

func (d jobDocument) posting() *domain.JobPosting {
	job := d.JobPosting
	job.ID = d.ID.Hex()
	return &job
}

func (m *Mongo) GetJob(ctx context.Context, id string) (*domain.JobPosting, error) {
	filter, err := jobFilter(id)
	if err != nil {
		return nil, err
	}

	var doc jobDocument
	err = m.jobs.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return doc.posting(), nil
}

func (m *Mongo) ListOpenJobs(ctx context.Context) ([]*domain.JobPosting, error) {
	cursor, err := m.jobs.Find(ctx,
		bson.D{{Key: "status", Value: domain.JobNotStarted}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	out := make([]*domain.JobPosting, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.posting())
	}
	return out, nil
}

func (m *Mongo) ClaimJob(ctx context.Context, id string) (bool, error) {
	filter, err := jobFilter(id)
	if err != nil {
		return false, err
	}

	claim := append(filter, bson.E{Key: "status", Value: domain.JobNotStarted})
	res, err := m.jobs.UpdateOne(ctx, claim, bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: domain.JobInProgress}}}})
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := m.jobs.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("count job %s: %w", id, err)
	}
	if n == 0 {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return false, nil
}

func (m *Mongo) ReleaseJob(ctx context.Context, id string) error {
	filter, err := jobFilter(id)
	if err != nil {
		return err
	}

	release := append(filter, bson.E{Key: "status", Value: domain.JobInProgress})
	res, err := m.jobs.UpdateOne(ctx, release, bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: domain.JobNotStarted}}}})
	if err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		m.logger.Debug("release found no claimed job", zap.String("job_id", id))
	}
	return nil
}

func (m *Mongo) InsertCode(ctx context.Context, code domain.ReferralCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	if _, err := m.referrals.InsertOne(ctx, code); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("referral code: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("insert referral code: %w", err)
	}
	return nil
}

func (m *Mongo) ConsumeCode(ctx context.Context, code, ownerID string, at time.Time) error {
	permanent, err := m.referrals.CountDocuments(ctx, bson.D{{Key: "code", Value: code}, {Key: "permanent", Value: true}})
	if err != nil {
		return fmt.Errorf("lookup referral code: %w", err)
	}
	if permanent > 0 {
		return nil
	}

	filter := bson.D{
		{Key: "code", Value: code},
		{Key: "used", Value: false},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "owner_id", Value: ownerID}},
			bson.D{{Key: "owner_id", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "owner_id", Value: ""}},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "used", Value: true},
		{Key: "used_at", Value: at},
	}}}

	res, err := m.referrals.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("consume referral code: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("referral code: %w", ErrNotFound)
	}
	return nil
}

func (m *Mongo) CodesByOwner(ctx context.Context, ownerID string) ([]domain.ReferralCode, error) {
	cursor, err := m.referrals.Find(ctx,
		bson.D{{Key: "owner_id", Value: ownerID}},
		options.Find().SetSort(bson.D{{Key: "code", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list referral codes: %w", err)
	}

	var out []domain.ReferralCode
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode referral codes: %w", err)
	}
	return out, nil
}
