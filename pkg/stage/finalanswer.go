package stage

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// FinalAnswer is the aggregate stage 5 assembles from stages 0, 1, 3, and 4
// (plus optional follow-up context) before rendering and persisting it.
type FinalAnswer struct {
	Query              string   `json:"query" jsonschema:"required"`
	Synthesis          string   `json:"synthesis" jsonschema:"required"`
	SubQueries         []string `json:"subQueries,omitempty"`
	Citations          []string `json:"citations,omitempty"`
	WebReferences      []string `json:"webReferences,omitempty"`
	VerificationFailed int      `json:"verificationFailedCount,omitempty"`
	FollowUpNumber     int      `json:"followUpNumber,omitempty"`
	PriorSectionCount  int      `json:"priorSectionCount,omitempty"`
}

var finalAnswerSchema = reflectFinalAnswerSchema()

func reflectFinalAnswerSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{RequiredFromJSONSchemaTags: true, DoNotReference: true}
	return reflector.Reflect(&FinalAnswer{})
}

// validateOutputContract checks a FinalAnswer against the reflected schema's
// required-field list. This is a deliberately small validator - the corpus
// carries a schema *generator* (invopop/jsonschema), not a validator, so
// the check it can ground is "every required property round-trips to a
// present, non-empty JSON value", not full draft-7 constraint evaluation.
func validateOutputContract(answer FinalAnswer) error {
	encoded, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("stage: failed to marshal final answer: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(encoded, &asMap); err != nil {
		return fmt.Errorf("stage: failed to decode final answer for validation: %w", err)
	}

	for _, name := range finalAnswerSchema.Required {
		v, ok := asMap[name]
		if !ok || v == nil || v == "" {
			return fmt.Errorf("stage: output contract violation: required field %q is missing or empty", name)
		}
	}
	return nil
}
