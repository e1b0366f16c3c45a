package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Promotion sources. These are the only ways data enters an expert
// profile; there is no direct write path.
const (
	PromotionSourceGlobalSubset  = "global_subset"  // meds/allergies/weight from global facts
	PromotionSourceUserStatement = "user_statement" // deterministic statement extraction
	PromotionSourceArtifact      = "artifact"       // deterministic lab artifact parsing
	PromotionSourceProjectFacts  = "project_facts"  // project-scoped data; denied unless a rule allows it
)

// ValidPromotionSources maps every accepted source for input validation.
var ValidPromotionSources = map[string]bool{
	PromotionSourceGlobalSubset:  true,
	PromotionSourceUserStatement: true,
	PromotionSourceArtifact:      true,
	PromotionSourceProjectFacts:  true,
}

// PromotionRequest asks the pipeline to move data into an expert profile.
// Exactly one payload field is meaningful per source: Statement for
// user_statement, Measurements for artifact, Categories for
// global_subset, FactContents for project_facts.
type PromotionRequest struct {
	UserID       string        `json:"user_id"`
	Project      string        `json:"project,omitempty"`
	Expert       string        `json:"expert"`
	Source       string        `json:"source"`
	Statement    string        `json:"statement,omitempty"`
	Categories   []string      `json:"categories,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
	FactContents []string      `json:"fact_contents,omitempty"`
}

// PromotionJob is a queued promotion request awaiting the background
// worker. The request payload is encrypted with the user's derived key.
type PromotionJob struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           string             `bson:"userId" json:"user_id"`
	Expert           string             `bson:"expert" json:"expert"`
	Source           string             `bson:"source" json:"source"`
	EncryptedRequest string             `bson:"encryptedRequest" json:"-"`
	Status           string             `bson:"status" json:"status"`
	AttemptCount     int                `bson:"attemptCount" json:"attempt_count"`
	ErrorMessage     string             `bson:"errorMessage,omitempty" json:"error_message,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt" json:"created_at"`
	ProcessedAt      *time.Time         `bson:"processedAt,omitempty" json:"processed_at,omitempty"`
}

// PromotionJob status constants.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Audit decisions recorded for every promotion the pipeline sees.
const (
	AuditDecisionApplied = "applied"
	AuditDecisionRefused = "refused"
)

// AuditEntry is one row of the promotion audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Expert    string    `json:"expert"`
	Source    string    `json:"source"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
