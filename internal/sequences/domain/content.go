package domain

import "strings"

// SequenceType determines how stage content is interpreted by the external
// dispatcher. Opaque to the engine beyond validation.
type SequenceType string

const (
	TypeMessage SequenceType = "message"
	TypePattern SequenceType = "pattern"
	TypeTypebot SequenceType = "typebot"
)

// ValidSequenceType reports whether t is a known sequence/stage type.
func ValidSequenceType(t SequenceType) bool {
	switch t {
	case TypeMessage, TypePattern, TypeTypebot:
		return true
	}
	return false
}

// RenderContent substitutes ${name} and {name} style placeholders in a
// message template with the provided variables. Unknown placeholders are
// left untouched so the dispatcher can surface them.
func RenderContent(template string, variables map[string]string) string {
	if template == "" || len(variables) == 0 {
		return template
	}

	rendered := template
	for name, value := range variables {
		rendered = strings.ReplaceAll(rendered, "${"+name+"}", value)
		rendered = strings.ReplaceAll(rendered, "{"+name+"}", value)
	}
	return rendered
}
