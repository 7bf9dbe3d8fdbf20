package domain

import "fmt"

// PseudonymTemplate is the generation rule for new pseudonyms of a single
// value type. On the server, a keyfile's pseudonymTemplate is one long string
// concatenating the rules for all value types; this client-side type holds
// one value type's slice of it, and is only used for validation. It is never
// transmitted as a unit — existence is checked by substring containment
// against the full server string.
type PseudonymTemplate struct {
	TemplateString string
	ValueType      ValueType
}

// AsServerString renders the template the way it appears inside the server's
// keyfile template string.
func (t PseudonymTemplate) AsServerString() string {
	return fmt.Sprintf(":%s|%s", t.ValueType, t.TemplateString)
}
