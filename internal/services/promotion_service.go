package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lens0/internal/config"
	"lens0/internal/crypto"
	"lens0/internal/database"
	"lens0/internal/extraction"
	"lens0/internal/logging"
	"lens0/internal/models"
	"lens0/internal/profilestore"
)

// Promotion refusal errors. Refusals are recorded in the audit log; the
// profile is left untouched.
var (
	ErrSourceNotAllowed       = errors.New("source not allowed for this expert")
	ErrProjectOverwriteDenied = errors.New("project data may not overwrite expert data without an explicit rule")
	ErrRateLimited            = errors.New("promotion rate limit exceeded")
	ErrQueueFull              = errors.New("too many pending promotion jobs")
)

const maxJobAttempts = 3

// PromotionService is the only write path into expert profiles. Requests
// are validated against the promotion rules, queued as encrypted jobs,
// and applied by the background worker. Every decision, applied or
// refused, lands in the audit log.
type PromotionService struct {
	jobs              *mongo.Collection
	factStorage       *FactStorageService
	profiles          *profilestore.Store
	contexts          *ContextService
	encryptionService *crypto.EncryptionService
	audit             *database.AuditDB
	rules             *config.PromotionRules
	redis             *RedisService
	cfg               *config.Config

	// In-process rate limiting fallback for when Redis is absent.
	rateMu     sync.Mutex
	rateEvents map[string][]time.Time
}

// NewPromotionService creates a new promotion service. redis may be nil.
func NewPromotionService(
	mongodb *database.MongoDB,
	factStorage *FactStorageService,
	profiles *profilestore.Store,
	contexts *ContextService,
	encryptionService *crypto.EncryptionService,
	audit *database.AuditDB,
	rules *config.PromotionRules,
	redis *RedisService,
	cfg *config.Config,
) *PromotionService {
	return &PromotionService{
		jobs:              mongodb.Collection(database.CollectionPromotionJobs),
		factStorage:       factStorage,
		profiles:          profiles,
		contexts:          contexts,
		encryptionService: encryptionService,
		audit:             audit,
		rules:             rules,
		redis:             redis,
		cfg:               cfg,
		rateEvents:        make(map[string][]time.Time),
	}
}

// Enqueue validates a promotion request and queues it for the worker.
// Rule violations are refused immediately and audited; they never reach
// the queue.
func (s *PromotionService) Enqueue(ctx context.Context, req models.PromotionRequest) (*models.PromotionJob, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if !models.IsValidExpert(req.Expert) {
		return nil, profilestore.ErrUnknownExpert
	}
	if !models.ValidPromotionSources[req.Source] {
		return nil, fmt.Errorf("invalid promotion source: %s", req.Source)
	}

	if !s.rules.SourceAllowed(req.Expert, req.Source) {
		s.recordRefusal(ctx, req, "source_not_allowed")
		return nil, ErrSourceNotAllowed
	}
	if req.Source == models.PromotionSourceProjectFacts && !s.rules.ProjectOverwriteAllowed(req.Expert) {
		s.recordRefusal(ctx, req, "project_overwrite_denied")
		return nil, ErrProjectOverwriteDenied
	}

	if err := s.checkRateLimit(ctx, req.UserID); err != nil {
		s.recordRefusal(ctx, req, "rate_limited")
		return nil, err
	}

	pending, err := s.jobs.CountDocuments(ctx, bson.M{"userId": req.UserID, "status": models.JobStatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	if pending >= int64(s.cfg.MaxPendingJobsPerUser) {
		s.recordRefusal(ctx, req, "queue_full")
		return nil, ErrQueueFull
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode promotion request: %w", err)
	}
	encryptedRequest, err := s.encryptionService.Encrypt(req.UserID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt promotion request: %w", err)
	}

	job := &models.PromotionJob{
		ID:               primitive.NewObjectID(),
		UserID:           req.UserID,
		Expert:           req.Expert,
		Source:           req.Source,
		EncryptedRequest: encryptedRequest,
		Status:           models.JobStatusPending,
		CreatedAt:        time.Now(),
	}

	if _, err := s.jobs.InsertOne(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue promotion job: %w", err)
	}

	log.Printf("📥 [PROMOTION] Enqueued job %s (user=%s, expert=%s, source=%s)",
		job.ID.Hex(), req.UserID, req.Expert, req.Source)
	return job, nil
}

// GetJob returns a single job for the owning user
func (s *PromotionService) GetJob(ctx context.Context, userID string, jobID primitive.ObjectID) (*models.PromotionJob, error) {
	var job models.PromotionJob
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID, "userId": userID}).Decode(&job)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("job not found")
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns recent jobs for a user, newest first
func (s *PromotionService) ListJobs(ctx context.Context, userID string, limit int64) ([]models.PromotionJob, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.jobs.Find(ctx, bson.M{"userId": userID}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []models.PromotionJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// AuditTrail returns recent audit entries for a user
func (s *PromotionService) AuditTrail(ctx context.Context, userID string, limit int) ([]models.AuditEntry, error) {
	return s.audit.ListForUser(ctx, userID, limit)
}

// ProcessPending claims and processes up to batchSize pending jobs.
// Called by the background worker; safe to call concurrently because
// each claim is an atomic pending-to-processing transition.
func (s *PromotionService) ProcessPending(ctx context.Context, batchSize int) (int, error) {
	processed := 0
	for i := 0; i < batchSize; i++ {
		job, err := s.claimNext(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}
		s.processJob(ctx, job)
		processed++
	}
	return processed, nil
}

// claimNext atomically claims the oldest pending job, nil when the queue is empty
func (s *PromotionService) claimNext(ctx context.Context) (*models.PromotionJob, error) {
	update := bson.M{
		"$set": bson.M{"status": models.JobStatusProcessing},
		"$inc": bson.M{"attemptCount": 1},
	}

	result := s.jobs.FindOneAndUpdate(
		ctx,
		bson.M{"status": models.JobStatusPending},
		update,
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "createdAt", Value: 1}}).
			SetReturnDocument(options.After),
	)

	var job models.PromotionJob
	if err := result.Decode(&job); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// processJob applies one claimed job and records the outcome
func (s *PromotionService) processJob(ctx context.Context, job *models.PromotionJob) {
	start := time.Now()

	payload, err := s.encryptionService.Decrypt(job.UserID, job.EncryptedRequest)
	if err != nil {
		s.finishJob(ctx, job, fmt.Errorf("failed to decrypt request: %w", err))
		return
	}

	var req models.PromotionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.finishJob(ctx, job, fmt.Errorf("failed to decode request: %w", err))
		return
	}

	applied, reason, err := s.apply(ctx, req)
	if err != nil {
		s.finishJob(ctx, job, err)
		return
	}

	s.finishJob(ctx, job, nil)

	decision := models.AuditDecisionRefused
	if applied {
		decision = models.AuditDecisionApplied
		if s.contexts != nil {
			s.contexts.Invalidate(req.UserID)
		}
	}
	s.recordDecision(ctx, req, decision, reason)
	s.publishEvent(ctx, req, decision, reason)

	if m := GetMetrics(); m != nil {
		m.RecordPromotionLatency(time.Since(start).Seconds())
		if applied {
			m.RecordPromotionApplied(req.Expert, req.Source)
		} else {
			m.RecordPromotionRefused(req.Expert, reason)
		}
	}

	logging.WithPromotion(job.ID.Hex(), req.UserID, req.Expert).Info("promotion settled",
		"decision", decision,
		"source", req.Source,
		"reason", reason)
}

// finishJob marks a job completed, or pending again for retry, or failed
// once attempts are exhausted.
func (s *PromotionService) finishJob(ctx context.Context, job *models.PromotionJob, jobErr error) {
	now := time.Now()
	update := bson.M{"$set": bson.M{"processedAt": now}}

	switch {
	case jobErr == nil:
		update["$set"].(bson.M)["status"] = models.JobStatusCompleted
	case job.AttemptCount >= maxJobAttempts:
		update["$set"].(bson.M)["status"] = models.JobStatusFailed
		update["$set"].(bson.M)["errorMessage"] = jobErr.Error()
		log.Printf("❌ [PROMOTION] Job %s failed permanently after %d attempts: %v", job.ID.Hex(), job.AttemptCount, jobErr)
	default:
		update["$set"].(bson.M)["status"] = models.JobStatusPending
		update["$set"].(bson.M)["errorMessage"] = jobErr.Error()
		log.Printf("🔁 [PROMOTION] Job %s attempt %d failed, will retry: %v", job.ID.Hex(), job.AttemptCount, jobErr)
	}

	if _, err := s.jobs.UpdateOne(ctx, bson.M{"_id": job.ID}, update); err != nil {
		log.Printf("⚠️ [PROMOTION] Failed to update job %s: %v", job.ID.Hex(), err)
	}
}

// apply routes a request to its source-specific handler. A false return
// with a reason is a refusal; an error is an infrastructure failure that
// may be retried.
func (s *PromotionService) apply(ctx context.Context, req models.PromotionRequest) (bool, string, error) {
	switch req.Source {
	case models.PromotionSourceGlobalSubset:
		return s.applyGlobalSubset(ctx, req)
	case models.PromotionSourceUserStatement:
		return s.applyUserStatement(ctx, req)
	case models.PromotionSourceArtifact:
		return s.applyArtifact(ctx, req)
	case models.PromotionSourceProjectFacts:
		return s.applyProjectFacts(ctx, req)
	default:
		return false, "invalid_source", nil
	}
}

// applyGlobalSubset promotes health-promotable global facts into the
// expert profile. Only categories the rules allow are considered.
func (s *PromotionService) applyGlobalSubset(ctx context.Context, req models.PromotionRequest) (bool, string, error) {
	categories := req.Categories
	if len(categories) == 0 {
		for c := range models.HealthPromotableCategories {
			categories = append(categories, c)
		}
	}
	for _, c := range categories {
		if !models.HealthPromotableCategories[c] || !s.rules.CategoryAllowed(req.Expert, c) {
			return false, "category_not_promotable", nil
		}
	}

	facts, err := s.factStorage.ListHealthSubset(ctx, req.UserID)
	if err != nil {
		return false, "", err
	}

	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	var findings []extraction.HealthFinding
	for _, fact := range facts {
		if !wanted[fact.Category] {
			continue
		}
		if finding, ok := extraction.ExtractHealth(fact.DecryptedContent); ok {
			findings = append(findings, *finding)
		}
	}
	if len(findings) == 0 {
		return false, "nothing_extractable", nil
	}

	return s.mergeHealthFindings(req.UserID, req.Expert, findings)
}

// applyUserStatement runs deterministic extraction over one statement.
// Statements that are questions, reflections, or not about the speaker
// are refused, never partially stored.
func (s *PromotionService) applyUserStatement(ctx context.Context, req models.PromotionRequest) (bool, string, error) {
	if !extraction.IsStorable(req.Statement) {
		return false, "statement_not_storable", nil
	}

	if req.Expert == models.ExpertHealth {
		finding, ok := extraction.ExtractHealth(req.Statement)
		if !ok {
			return false, "nothing_extractable", nil
		}
		return s.mergeHealthFindings(req.UserID, req.Expert, []extraction.HealthFinding{*finding})
	}

	candidate, ok := extraction.Extract(req.Statement)
	if !ok {
		return false, "nothing_extractable", nil
	}
	return s.appendProfileFacts(req.UserID, req.Expert, []string{candidate.Claim})
}

// applyArtifact merges parsed lab measurements into the health profile
func (s *PromotionService) applyArtifact(_ context.Context, req models.PromotionRequest) (bool, string, error) {
	if len(req.Measurements) == 0 {
		return false, "no_measurements", nil
	}

	profile, err := s.profiles.Load(req.UserID, req.Expert)
	if err != nil {
		return s.refuseOnProfileError(err)
	}

	hd, err := profile.DecodeHealthData()
	if err != nil {
		return false, "malformed_profile_data", nil
	}

	seen := make(map[string]bool, len(hd.Measurements))
	for _, m := range hd.Measurements {
		seen[measurementKey(m)] = true
	}

	added := 0
	for _, m := range req.Measurements {
		m.Analyte = strings.ToLower(strings.TrimSpace(m.Analyte))
		m.Unit = strings.ToLower(strings.TrimSpace(m.Unit))
		if m.Analyte == "" || seen[measurementKey(m)] {
			continue
		}
		hd.Measurements = append(hd.Measurements, m)
		seen[measurementKey(m)] = true
		added++
	}
	if added == 0 {
		return false, "all_duplicates", nil
	}

	if err := profile.SetHealthData(hd); err != nil {
		return false, "", err
	}
	if err := s.profiles.Save(req.UserID, req.Expert, profile); err != nil {
		return false, "", err
	}
	return true, fmt.Sprintf("added_%d_measurements", added), nil
}

// applyProjectFacts copies project fact contents into the profile. The
// rule gate already passed at enqueue time; it is re-checked here so a
// rules reload between enqueue and processing still holds the line.
func (s *PromotionService) applyProjectFacts(_ context.Context, req models.PromotionRequest) (bool, string, error) {
	if !s.rules.ProjectOverwriteAllowed(req.Expert) {
		return false, "project_overwrite_denied", nil
	}
	if len(req.FactContents) == 0 {
		return false, "no_facts", nil
	}
	return s.appendProfileFacts(req.UserID, req.Expert, req.FactContents)
}

// mergeHealthFindings folds normalized findings into the health profile.
// Medications dedup by name (latest dose wins), allergies dedup exact,
// weight is replaced.
func (s *PromotionService) mergeHealthFindings(userID, expert string, findings []extraction.HealthFinding) (bool, string, error) {
	profile, err := s.profiles.Load(userID, expert)
	if err != nil {
		return s.refuseOnProfileError(err)
	}

	hd, err := profile.DecodeHealthData()
	if err != nil {
		return false, "malformed_profile_data", nil
	}

	changed := false
	for _, f := range findings {
		switch f.Kind {
		case "medication":
			if f.Medication == nil {
				continue
			}
			replaced := false
			for i, existing := range hd.Medications {
				if existing.Name == f.Medication.Name {
					if existing != *f.Medication {
						hd.Medications[i] = *f.Medication
						changed = true
					}
					replaced = true
					break
				}
			}
			if !replaced {
				hd.Medications = append(hd.Medications, *f.Medication)
				changed = true
			}
		case "allergy":
			exists := false
			for _, a := range hd.Allergies {
				if a == f.Allergy {
					exists = true
					break
				}
			}
			if !exists && f.Allergy != "" {
				hd.Allergies = append(hd.Allergies, f.Allergy)
				changed = true
			}
		case "weight":
			if f.WeightKG > 0 && hd.WeightKG != f.WeightKG {
				hd.WeightKG = f.WeightKG
				changed = true
			}
		}
	}
	if !changed {
		return false, "all_duplicates", nil
	}

	if err := profile.SetHealthData(hd); err != nil {
		return false, "", err
	}
	if err := s.profiles.Save(userID, expert, profile); err != nil {
		return false, "", err
	}
	return true, "merged", nil
}

// appendProfileFacts appends deduplicated plain facts to the profile's
// generic "facts" list. Used for non-health experts.
func (s *PromotionService) appendProfileFacts(userID, expert string, contents []string) (bool, string, error) {
	profile, err := s.profiles.Load(userID, expert)
	if err != nil {
		return s.refuseOnProfileError(err)
	}

	var facts []string
	if raw, ok := profile.Data["facts"].([]any); ok {
		for _, v := range raw {
			if str, ok := v.(string); ok {
				facts = append(facts, str)
			}
		}
	}

	seen := make(map[string]bool, len(facts))
	for _, f := range facts {
		seen[f] = true
	}

	added := 0
	for _, content := range contents {
		content = strings.TrimSpace(content)
		if content == "" || seen[content] {
			continue
		}
		facts = append(facts, content)
		seen[content] = true
		added++
	}
	if added == 0 {
		return false, "all_duplicates", nil
	}

	profile.Data["facts"] = facts
	if err := s.profiles.Save(userID, expert, profile); err != nil {
		return false, "", err
	}
	return true, fmt.Sprintf("added_%d_facts", added), nil
}

// refuseOnProfileError turns profile-state errors into refusals and
// leaves infrastructure errors retryable
func (s *PromotionService) refuseOnProfileError(err error) (bool, string, error) {
	switch {
	case errors.Is(err, profilestore.ErrNotEnabled):
		return false, "expert_not_enabled", nil
	case errors.Is(err, profilestore.ErrMalformedProfile):
		return false, "malformed_profile", nil
	case errors.Is(err, profilestore.ErrUnknownExpert):
		return false, "unknown_expert", nil
	default:
		return false, "", err
	}
}

func measurementKey(m models.Measurement) string {
	return fmt.Sprintf("%s|%g|%s|%s", m.Analyte, m.Value, m.Unit, m.ObservedAt)
}

// checkRateLimit enforces the per-user hourly promotion budget, via
// Redis when available and an in-process window otherwise
func (s *PromotionService) checkRateLimit(ctx context.Context, userID string) error {
	limit := int64(s.cfg.MaxPromotionsPerHour)
	if limit <= 0 {
		return nil
	}

	if s.redis != nil {
		key := fmt.Sprintf("lens0:promo:rate:%s", userID)
		_, exceeded, err := s.redis.CheckRateLimit(ctx, key, limit, time.Hour)
		if err == nil {
			if exceeded {
				return ErrRateLimited
			}
			return nil
		}
		log.Printf("⚠️ [PROMOTION] Redis rate limit check failed, using local window: %v", err)
	}

	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	events := s.rateEvents[userID]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if int64(len(kept)) >= limit {
		s.rateEvents[userID] = kept
		return ErrRateLimited
	}
	s.rateEvents[userID] = append(kept, time.Now())
	return nil
}

// recordRefusal audits a request refused before it reached the queue
func (s *PromotionService) recordRefusal(ctx context.Context, req models.PromotionRequest, reason string) {
	s.recordDecision(ctx, req, models.AuditDecisionRefused, reason)
	if m := GetMetrics(); m != nil {
		m.RecordPromotionRefused(req.Expert, reason)
	}
}

func (s *PromotionService) recordDecision(ctx context.Context, req models.PromotionRequest, decision, reason string) {
	entry := models.AuditEntry{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Expert:    req.Expert,
		Source:    req.Source,
		Decision:  decision,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		log.Printf("⚠️ [PROMOTION] Failed to record audit entry: %v", err)
	}
}

// publishEvent emits the decision on Redis for downstream consumers.
// Best effort; promotion outcomes never depend on it.
func (s *PromotionService) publishEvent(ctx context.Context, req models.PromotionRequest, decision, reason string) {
	if s.redis == nil {
		return
	}

	event := map[string]string{
		"user_id":  req.UserID,
		"expert":   req.Expert,
		"source":   req.Source,
		"decision": decision,
		"reason":   reason,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, ChannelPromotionEvents, payload); err != nil {
		log.Printf("⚠️ [PROMOTION] Failed to publish event: %v", err)
	}
}
