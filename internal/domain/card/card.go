// Package card defines the agent-card metadata document consumed by the
// evaluation pipeline: declared capabilities, locales, and the invocation
// endpoint of a marketplace agent.
package card

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoUseCases indicates the card declares neither useCases nor capabilities
// in any translation. Scenario generation is impossible without them.
var ErrNoUseCases = errors.New("agent card has no useCases or capabilities")

// Translation is one localized block of declared agent behaviour.
type Translation struct {
	Locale       string   `json:"locale"`
	UseCases     []string `json:"useCases,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Card is the agent metadata document submitted for review.
type Card struct {
	AgentID       string          `json:"agentId,omitempty"`
	ID            string          `json:"id,omitempty"`
	Version       string          `json:"version,omitempty"`
	ServiceURL    string          `json:"serviceUrl,omitempty"`
	DefaultLocale string          `json:"defaultLocale,omitempty"`
	Translations  []Translation   `json:"translations,omitempty"`
	Capabilities  json.RawMessage `json:"capabilities,omitempty"`
	Skills        json.RawMessage `json:"skills,omitempty"`
}

// Parse decodes an agent card document.
func Parse(data []byte) (*Card, error) {
	var c Card
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse agent card: %w", err)
	}
	return &c, nil
}

// EffectiveAgentID returns agentId, falling back to id.
func (c *Card) EffectiveAgentID() string {
	if c.AgentID != "" {
		return c.AgentID
	}
	return c.ID
}

// Revision returns the card version, defaulting to "v1".
func (c *Card) Revision() string {
	if c.Version != "" {
		return c.Version
	}
	return "v1"
}

// SelectTranslation returns the translation matching defaultLocale,
// falling back to the first translation.
func (c *Card) SelectTranslation() Translation {
	if c.DefaultLocale != "" {
		for _, t := range c.Translations {
			if t.Locale == c.DefaultLocale {
				return t
			}
		}
	}
	if len(c.Translations) > 0 {
		return c.Translations[0]
	}
	return Translation{}
}

// UseCases returns the declared use cases of the selected translation,
// falling back to capabilities. Returns ErrNoUseCases when both are empty.
func (c *Card) UseCases() ([]string, error) {
	t := c.SelectTranslation()
	cases := t.UseCases
	if len(cases) == 0 {
		cases = t.Capabilities
	}
	if len(cases) == 0 {
		return nil, ErrNoUseCases
	}
	return cases, nil
}

// PrecheckSummary records the outcome of structural card validation.
type PrecheckSummary struct {
	Passed          bool     `json:"passed"`
	AgentID         string   `json:"agentId,omitempty"`
	AgentRevisionID string   `json:"agentRevisionId,omitempty"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
}

// Precheck validates the presence of the fields the pipeline depends on.
// A failed precheck halts the pipeline; warnings do not.
func (c *Card) Precheck() PrecheckSummary {
	s := PrecheckSummary{Errors: []string{}, Warnings: []string{}}

	if c.EffectiveAgentID() == "" {
		s.Errors = append(s.Errors, "missing required field: agentId")
	}
	if c.ServiceURL == "" {
		s.Errors = append(s.Errors, "missing required field: serviceUrl")
	}
	if len(c.Translations) == 0 {
		s.Errors = append(s.Errors, "missing required field: translations")
	}

	if len(c.Capabilities) == 0 {
		s.Warnings = append(s.Warnings, "no capabilities defined in agent card")
	}
	if len(c.Skills) == 0 {
		s.Warnings = append(s.Warnings, "no skills defined in agent card")
	}

	if len(s.Errors) > 0 {
		return s
	}

	s.Passed = true
	s.AgentID = c.EffectiveAgentID()
	s.AgentRevisionID = c.Revision()
	return s
}
