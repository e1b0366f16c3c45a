package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GlobalFact is a single foundational fact about a user, scoped to the
// whole account rather than any project. Content is encrypted at rest;
// the hash of the normalized plaintext is kept for deduplication.
type GlobalFact struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           string             `bson:"userId" json:"user_id"`
	EncryptedContent string             `bson:"encryptedContent" json:"-"`
	ContentHash      string             `bson:"contentHash" json:"content_hash"`
	Category         string             `bson:"category" json:"category"`
	Source           string             `bson:"source" json:"source"` // "user_explicit", "statement_extraction", "manual"
	CreatedAt        time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updated_at"`
	Version          int64              `bson:"version" json:"version"`
}

// DecryptedFact carries a fact with its plaintext content (internal use only).
type DecryptedFact struct {
	GlobalFact
	DecryptedContent string `json:"content"`
}

// ProjectFact is a canonical fact scoped to one project of one user.
// Project facts are foundational (always injected for that project) but
// may never overwrite expert-profile data without an explicit rule.
type ProjectFact struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           string             `bson:"userId" json:"user_id"`
	Project          string             `bson:"project" json:"project"`
	EncryptedContent string             `bson:"encryptedContent" json:"-"`
	ContentHash      string             `bson:"contentHash" json:"content_hash"`
	CreatedAt        time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updated_at"`
	Version          int64              `bson:"version" json:"version"`
}

// DecryptedProjectFact carries a project fact with plaintext content.
type DecryptedProjectFact struct {
	ProjectFact
	DecryptedContent string `json:"content"`
}

// IdentityKernel is the always-present core of foundational memory.
type IdentityKernel struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        string             `bson:"userId" json:"user_id"`
	PreferredName string             `bson:"preferredName" json:"preferred_name"`
	Locale        string             `bson:"locale,omitempty" json:"locale,omitempty"`
	Timezone      string             `bson:"timezone,omitempty" json:"timezone,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updated_at"`
}

// Global fact categories. The first three form the health-promotable
// subset: the only global categories the promotion pipeline may source
// into the health profile.
const (
	FactCategoryMeds       = "meds"
	FactCategoryAllergies  = "allergies"
	FactCategoryWeight     = "weight"
	FactCategoryIdentity   = "identity"
	FactCategoryPreference = "preference"
	FactCategoryConstraint = "constraint"
)

// FactSourceUserExplicit marks facts stated directly by the user.
const (
	FactSourceUserExplicit        = "user_explicit"
	FactSourceStatementExtraction = "statement_extraction"
	FactSourceManual              = "manual"
)

// ValidFactCategories maps every accepted category for input validation.
var ValidFactCategories = map[string]bool{
	FactCategoryMeds:       true,
	FactCategoryAllergies:  true,
	FactCategoryWeight:     true,
	FactCategoryIdentity:   true,
	FactCategoryPreference: true,
	FactCategoryConstraint: true,
}

// HealthPromotableCategories is the global fact subset allowed to feed
// the health profile.
var HealthPromotableCategories = map[string]bool{
	FactCategoryMeds:      true,
	FactCategoryAllergies: true,
	FactCategoryWeight:    true,
}
