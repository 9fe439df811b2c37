// Package domain holds the pure decision logic for sequences: tag
// conditions, time restrictions, stage delays, and content templating.
// Nothing in this package performs I/O.
package domain

import (
	"encoding/json"
	"strings"
)

// Operator combines tag membership checks.
type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

// ConditionGroup is one AND/OR clause over a tag list.
type ConditionGroup struct {
	Operator Operator `json:"operator"`
	Tags     []string `json:"tags"`
}

// Condition gates sequence entry/exit on a contact's tag set. The top-level
// operator combines the per-group results; each group combines its own tag
// membership checks. A condition with no groups, or a group with no tags,
// never matches — an unconfigured condition must not match everyone.
type Condition struct {
	Operator Operator         `json:"operator"`
	Groups   []ConditionGroup `json:"groups"`
}

// flatCondition is the legacy serialized form: {"type": "AND", "tags": [...]}.
type flatCondition struct {
	Type Operator `json:"type"`
	Tags []string `json:"tags"`
}

// nestedCondition is the current serialized form:
// {"operator": "OR", "groups": [{"operator": "AND", "tags": [...]}]}.
type nestedCondition struct {
	Operator Operator         `json:"operator"`
	Groups   []ConditionGroup `json:"groups"`
}

// ParseCondition decodes either serialized condition form into the unified
// representation. A flat condition becomes a single group. Empty or null
// input yields a condition that never matches.
func ParseCondition(raw []byte) (Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Condition{}, nil
	}

	var nested nestedCondition
	if err := json.Unmarshal(raw, &nested); err != nil {
		return Condition{}, err
	}
	if nested.Operator != "" || nested.Groups != nil {
		return Condition{
			Operator: normalizeOperator(nested.Operator),
			Groups:   normalizeGroups(nested.Groups),
		}, nil
	}

	var flat flatCondition
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Condition{}, err
	}
	if len(flat.Tags) == 0 {
		return Condition{}, nil
	}
	op := normalizeOperator(flat.Type)
	return Condition{
		Operator: op,
		Groups:   []ConditionGroup{{Operator: op, Tags: flat.Tags}},
	}, nil
}

// MarshalJSON serializes in the nested form.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(nestedCondition{
		Operator: normalizeOperator(c.Operator),
		Groups:   c.Groups,
	})
}

// UnmarshalJSON accepts both serialized forms.
func (c *Condition) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseCondition(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Matches evaluates the condition against a contact's tag set.
// Deterministic and side-effect free.
func (c Condition) Matches(tags map[string]struct{}) bool {
	if len(c.Groups) == 0 {
		return false
	}

	op := normalizeOperator(c.Operator)
	for _, group := range c.Groups {
		matched := group.matches(tags)
		if op == OperatorAnd && !matched {
			return false
		}
		if op == OperatorOr && matched {
			return true
		}
	}
	return op == OperatorAnd
}

// IsEmpty reports whether the condition can never match.
func (c Condition) IsEmpty() bool {
	for _, group := range c.Groups {
		if len(group.Tags) > 0 {
			return false
		}
	}
	return true
}

func (g ConditionGroup) matches(tags map[string]struct{}) bool {
	if len(g.Tags) == 0 {
		return false
	}

	op := normalizeOperator(g.Operator)
	for _, tag := range g.Tags {
		_, present := tags[strings.TrimSpace(tag)]
		if op == OperatorAnd && !present {
			return false
		}
		if op == OperatorOr && present {
			return true
		}
	}
	return op == OperatorAnd
}

func normalizeGroups(groups []ConditionGroup) []ConditionGroup {
	out := make([]ConditionGroup, len(groups))
	for i, g := range groups {
		out[i] = ConditionGroup{Operator: normalizeOperator(g.Operator), Tags: g.Tags}
	}
	return out
}

func normalizeOperator(op Operator) Operator {
	if strings.EqualFold(string(op), string(OperatorOr)) {
		return OperatorOr
	}
	return OperatorAnd
}

// TagSet builds a membership set from a list of tag names.
func TagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
