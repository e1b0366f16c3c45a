package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lens0/internal/crypto"
	"lens0/internal/database"
	"lens0/internal/models"
)

// FactStorageService handles CRUD for foundational memory: global facts,
// project canonical facts, and the identity kernel. Content is encrypted
// per user and deduplicated by normalized-content hash.
type FactStorageService struct {
	mongodb           *database.MongoDB
	globalFacts       *mongo.Collection
	projectFacts      *mongo.Collection
	identityKernels   *mongo.Collection
	encryptionService *crypto.EncryptionService
}

// NewFactStorageService creates a new fact storage service
func NewFactStorageService(mongodb *database.MongoDB, encryptionService *crypto.EncryptionService) *FactStorageService {
	return &FactStorageService{
		mongodb:           mongodb,
		globalFacts:       mongodb.Collection(database.CollectionGlobalFacts),
		projectFacts:      mongodb.Collection(database.CollectionProjectFacts),
		identityKernels:   mongodb.Collection(database.CollectionIdentityKernels),
		encryptionService: encryptionService,
	}
}

// CreateGlobalFact stores a new global fact with encryption and deduplication.
// A duplicate (same normalized content) bumps the existing fact instead.
func (s *FactStorageService) CreateGlobalFact(ctx context.Context, userID, content, category, source string) (*models.GlobalFact, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if content == "" {
		return nil, fmt.Errorf("fact content is required")
	}
	if !models.ValidFactCategories[category] {
		return nil, fmt.Errorf("invalid fact category: %s", category)
	}

	contentHash := s.calculateHash(s.normalizeContent(content))

	existing, err := s.checkDuplicate(ctx, userID, contentHash)
	if err != nil && err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if existing != nil {
		log.Printf("🔄 [FACT-STORAGE] Duplicate global fact (ID: %s), bumping instead", existing.ID.Hex())
		return s.bumpExistingFact(ctx, existing)
	}

	encryptedContent, err := s.encryptionService.EncryptString(userID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt fact content: %w", err)
	}

	fact := &models.GlobalFact{
		ID:               primitive.NewObjectID(),
		UserID:           userID,
		EncryptedContent: encryptedContent,
		ContentHash:      contentHash,
		Category:         category,
		Source:           source,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
		Version:          1,
	}

	if _, err := s.globalFacts.InsertOne(ctx, fact); err != nil {
		return nil, fmt.Errorf("failed to insert global fact: %w", err)
	}

	log.Printf("✅ [FACT-STORAGE] Created global fact (ID: %s, Category: %s)", fact.ID.Hex(), category)
	return fact, nil
}

// bumpExistingFact refreshes a duplicate fact's timestamp and version
func (s *FactStorageService) bumpExistingFact(ctx context.Context, fact *models.GlobalFact) (*models.GlobalFact, error) {
	update := bson.M{
		"$set": bson.M{"updatedAt": time.Now()},
		"$inc": bson.M{"version": 1},
	}

	result := s.globalFacts.FindOneAndUpdate(
		ctx,
		bson.M{"_id": fact.ID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var updated models.GlobalFact
	if err := result.Decode(&updated); err != nil {
		return nil, fmt.Errorf("failed to decode updated fact: %w", err)
	}
	return &updated, nil
}

// ListGlobalFacts retrieves decrypted global facts, optionally filtered by category
func (s *FactStorageService) ListGlobalFacts(ctx context.Context, userID, category string) ([]models.DecryptedFact, error) {
	filter := bson.M{"userId": userID}
	if category != "" {
		filter["category"] = category
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := s.globalFacts.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find global facts: %w", err)
	}
	defer cursor.Close(ctx)

	var facts []models.GlobalFact
	if err := cursor.All(ctx, &facts); err != nil {
		return nil, fmt.Errorf("failed to decode global facts: %w", err)
	}

	decrypted := make([]models.DecryptedFact, 0, len(facts))
	for _, fact := range facts {
		content, err := s.encryptionService.DecryptString(userID, fact.EncryptedContent)
		if err != nil {
			log.Printf("⚠️ [FACT-STORAGE] Failed to decrypt fact %s: %v", fact.ID.Hex(), err)
			continue
		}
		decrypted = append(decrypted, models.DecryptedFact{
			GlobalFact:       fact,
			DecryptedContent: content,
		})
	}
	return decrypted, nil
}

// ListHealthSubset retrieves the global facts the health profile may be
// fed from: meds, allergies, and weight only.
func (s *FactStorageService) ListHealthSubset(ctx context.Context, userID string) ([]models.DecryptedFact, error) {
	categories := make([]string, 0, len(models.HealthPromotableCategories))
	for c := range models.HealthPromotableCategories {
		categories = append(categories, c)
	}

	filter := bson.M{
		"userId":   userID,
		"category": bson.M{"$in": categories},
	}

	cursor, err := s.globalFacts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find health subset: %w", err)
	}
	defer cursor.Close(ctx)

	var facts []models.GlobalFact
	if err := cursor.All(ctx, &facts); err != nil {
		return nil, fmt.Errorf("failed to decode health subset: %w", err)
	}

	decrypted := make([]models.DecryptedFact, 0, len(facts))
	for _, fact := range facts {
		content, err := s.encryptionService.DecryptString(userID, fact.EncryptedContent)
		if err != nil {
			log.Printf("⚠️ [FACT-STORAGE] Failed to decrypt fact %s: %v", fact.ID.Hex(), err)
			continue
		}
		decrypted = append(decrypted, models.DecryptedFact{
			GlobalFact:       fact,
			DecryptedContent: content,
		})
	}
	return decrypted, nil
}

// DeleteGlobalFact permanently deletes a global fact
func (s *FactStorageService) DeleteGlobalFact(ctx context.Context, userID string, factID primitive.ObjectID) error {
	result, err := s.globalFacts.DeleteOne(ctx, bson.M{"_id": factID, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete global fact: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("fact not found or access denied")
	}

	log.Printf("🗑️ [FACT-STORAGE] Deleted global fact %s", factID.Hex())
	return nil
}

// CreateProjectFact stores a canonical fact scoped to one project
func (s *FactStorageService) CreateProjectFact(ctx context.Context, userID, project, content string) (*models.ProjectFact, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}
	if content == "" {
		return nil, fmt.Errorf("fact content is required")
	}

	contentHash := s.calculateHash(s.normalizeContent(content))

	var existing models.ProjectFact
	err := s.projectFacts.FindOne(ctx, bson.M{"userId": userID, "project": project, "contentHash": contentHash}).Decode(&existing)
	if err == nil {
		update := bson.M{
			"$set": bson.M{"updatedAt": time.Now()},
			"$inc": bson.M{"version": 1},
		}
		result := s.projectFacts.FindOneAndUpdate(ctx, bson.M{"_id": existing.ID}, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After))
		var updated models.ProjectFact
		if err := result.Decode(&updated); err != nil {
			return nil, fmt.Errorf("failed to decode updated project fact: %w", err)
		}
		log.Printf("🔄 [FACT-STORAGE] Duplicate project fact (ID: %s), bumped", updated.ID.Hex())
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}

	encryptedContent, err := s.encryptionService.EncryptString(userID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt project fact: %w", err)
	}

	fact := &models.ProjectFact{
		ID:               primitive.NewObjectID(),
		UserID:           userID,
		Project:          project,
		EncryptedContent: encryptedContent,
		ContentHash:      contentHash,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
		Version:          1,
	}

	if _, err := s.projectFacts.InsertOne(ctx, fact); err != nil {
		return nil, fmt.Errorf("failed to insert project fact: %w", err)
	}

	log.Printf("✅ [FACT-STORAGE] Created project fact (ID: %s, Project: %s)", fact.ID.Hex(), project)
	return fact, nil
}

// ListProjectFacts retrieves decrypted canonical facts for one project
func (s *FactStorageService) ListProjectFacts(ctx context.Context, userID, project string) ([]models.DecryptedProjectFact, error) {
	filter := bson.M{"userId": userID, "project": project}
	findOptions := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := s.projectFacts.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find project facts: %w", err)
	}
	defer cursor.Close(ctx)

	var facts []models.ProjectFact
	if err := cursor.All(ctx, &facts); err != nil {
		return nil, fmt.Errorf("failed to decode project facts: %w", err)
	}

	decrypted := make([]models.DecryptedProjectFact, 0, len(facts))
	for _, fact := range facts {
		content, err := s.encryptionService.DecryptString(userID, fact.EncryptedContent)
		if err != nil {
			log.Printf("⚠️ [FACT-STORAGE] Failed to decrypt project fact %s: %v", fact.ID.Hex(), err)
			continue
		}
		decrypted = append(decrypted, models.DecryptedProjectFact{
			ProjectFact:      fact,
			DecryptedContent: content,
		})
	}
	return decrypted, nil
}

// DeleteProjectFact permanently deletes a project fact
func (s *FactStorageService) DeleteProjectFact(ctx context.Context, userID string, factID primitive.ObjectID) error {
	result, err := s.projectFacts.DeleteOne(ctx, bson.M{"_id": factID, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete project fact: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("fact not found or access denied")
	}
	return nil
}

// UpsertIdentityKernel creates or updates the user's identity kernel
func (s *FactStorageService) UpsertIdentityKernel(ctx context.Context, userID, preferredName, locale, timezone string) (*models.IdentityKernel, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if preferredName == "" {
		return nil, fmt.Errorf("preferred name is required")
	}

	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"preferredName": preferredName,
			"locale":        locale,
			"timezone":      timezone,
			"updatedAt":     now,
		},
		"$setOnInsert": bson.M{
			"userId":    userID,
			"createdAt": now,
		},
	}

	result := s.identityKernels.FindOneAndUpdate(
		ctx,
		bson.M{"userId": userID},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var kernel models.IdentityKernel
	if err := result.Decode(&kernel); err != nil {
		return nil, fmt.Errorf("failed to upsert identity kernel: %w", err)
	}

	log.Printf("✅ [FACT-STORAGE] Upserted identity kernel for user %s", userID)
	return &kernel, nil
}

// GetIdentityKernel retrieves the user's identity kernel, nil when absent
func (s *FactStorageService) GetIdentityKernel(ctx context.Context, userID string) (*models.IdentityKernel, error) {
	var kernel models.IdentityKernel
	err := s.identityKernels.FindOne(ctx, bson.M{"userId": userID}).Decode(&kernel)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity kernel: %w", err)
	}
	return &kernel, nil
}

// checkDuplicate checks if a global fact with the same content hash exists
func (s *FactStorageService) checkDuplicate(ctx context.Context, userID, contentHash string) (*models.GlobalFact, error) {
	var fact models.GlobalFact
	err := s.globalFacts.FindOne(ctx, bson.M{"userId": userID, "contentHash": contentHash}).Decode(&fact)
	if err != nil {
		return nil, err
	}
	return &fact, nil
}

// normalizeContent normalizes content for deduplication
func (s *FactStorageService) normalizeContent(content string) string {
	normalized := strings.ToLower(content)

	// Replace word separators with spaces first (before removing other punctuation)
	normalized = strings.ReplaceAll(normalized, "\n", " ")
	normalized = strings.ReplaceAll(normalized, "\t", " ")
	normalized = strings.ReplaceAll(normalized, "\r", " ")
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = strings.ReplaceAll(normalized, "_", " ")

	normalized = strings.TrimSpace(normalized)

	normalized = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return -1
	}, normalized)

	return strings.Join(strings.Fields(normalized), " ")
}

// calculateHash calculates SHA-256 hash of content
func (s *FactStorageService) calculateHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
