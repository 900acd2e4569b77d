package models

import (
	"encoding/json"
	"time"
)

// TransformationStep is one entry in a lineage transformation chain.
type TransformationStep struct {
	Step    string         `json:"step"`
	Details map[string]any `json:"details,omitempty"`
}

// TransformationChain is an append-only log of transformation steps,
// oldest first. Steps are never mutated or removed once appended.
type TransformationChain struct {
	steps []TransformationStep
}

// NewTransformationChain builds a chain from the given steps.
func NewTransformationChain(steps ...TransformationStep) TransformationChain {
	return TransformationChain{steps: append([]TransformationStep(nil), steps...)}
}

// Append returns a new chain with step added at the end.
func (c TransformationChain) Append(step TransformationStep) TransformationChain {
	out := make([]TransformationStep, 0, len(c.steps)+1)
	out = append(out, c.steps...)
	out = append(out, step)
	return TransformationChain{steps: out}
}

// Steps returns a copy of the chain, oldest first.
func (c TransformationChain) Steps() []TransformationStep {
	return append([]TransformationStep(nil), c.steps...)
}

// Len returns the number of steps in the chain.
func (c TransformationChain) Len() int {
	return len(c.steps)
}

func (c TransformationChain) MarshalJSON() ([]byte, error) {
	if c.steps == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.steps)
}

func (c *TransformationChain) UnmarshalJSON(data []byte) error {
	var steps []TransformationStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	c.steps = steps
	return nil
}

// Lineage is the provenance record for one evidence item. Exactly one
// lineage row exists per item per version; new versions link back to the
// previous one via ParentVersionID.
type Lineage struct {
	ID             string `json:"id"`
	EvidenceItemID string `json:"evidence_item_id"`

	SourceSystem     string `json:"source_system"`
	SourceURL        string `json:"source_url,omitempty"`
	SourceIdentifier string `json:"source_identifier,omitempty"`

	Chain TransformationChain `json:"transformation_chain"`

	Version         int    `json:"version"`
	VersionHash     string `json:"version_hash,omitempty"`
	ParentVersionID string `json:"parent_version_id,omitempty"`

	RefreshSchedule string     `json:"refresh_schedule,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
