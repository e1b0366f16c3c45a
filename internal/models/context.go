package models

import "time"

// ContextFact is one plaintext foundational fact as injected into context.
type ContextFact struct {
	Category string `json:"category,omitempty"`
	Content  string `json:"content"`
}

// FoundationalContext is the baseline memory included in every build,
// regardless of which hat (including no hat) is active.
type FoundationalContext struct {
	Identity     *IdentityKernel `json:"identity,omitempty"`
	GlobalFacts  []ContextFact   `json:"global_facts"`
	ProjectFacts []ContextFact   `json:"project_facts"`
}

// ExpertLayer is the optional expert data layered on top of the
// foundational section. At most one per build.
type ExpertLayer struct {
	Expert string         `json:"expert"`
	Data   map[string]any `json:"data"`
}

// AssembledContext is the full injection payload for one request.
// The expert layer is a sibling of the foundational section, never a
// replacement for any part of it.
type AssembledContext struct {
	UserID       string              `json:"user_id"`
	Project      string              `json:"project,omitempty"`
	Foundational FoundationalContext `json:"foundational"`
	Expert       *ExpertLayer        `json:"expert,omitempty"`
	BuiltAt      time.Time           `json:"built_at"`
}
