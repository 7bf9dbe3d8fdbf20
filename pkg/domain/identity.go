// Package domain holds the identity model of the PIMS client: identifiers,
// pseudonyms and the keys pairing them, tagged with a closed set of value
// types. All types are small immutable values, safe to copy and to use as map
// keys across concurrent operations.
package domain

import "fmt"

// Identifier is a real-world value to be protected, like a patient ID or a
// study UID. Source disambiguates what kind of value it is; by convention it
// holds a ValueType tag, but institution tags occur as well.
type Identifier struct {
	Value  string
	Source string
}

func NewIdentifier(value, source string) Identifier {
	return Identifier{Value: value, Source: source}
}

func (i Identifier) String() string {
	return fmt.Sprintf("Identifier '%s' (source:'%s')", i.Value, i.Source)
}

// Pseudonym is the de-identified stand-in for an Identifier. Source is
// optional; when set it mirrors the identifier's source.
type Pseudonym struct {
	Value  string
	Source string
}

func NewPseudonym(value, source string) Pseudonym {
	return Pseudonym{Value: value, Source: source}
}

func (p Pseudonym) String() string {
	return fmt.Sprintf("Pseudonym '%s' (source:'%s')", p.Value, p.Source)
}

// Key links an identifier with its pseudonym. Invariant: when both sides
// carry a source, the sources match.
type Key struct {
	Identifier Identifier
	Pseudonym  Pseudonym
}

func NewKey(identifier Identifier, pseudonym Pseudonym) Key {
	return Key{Identifier: identifier, Pseudonym: pseudonym}
}

// NewKeyFromStrings builds a Key from raw wire strings. Both sides share the
// identity source.
func NewKeyFromStrings(pseudonym, identity, identitySource string) Key {
	return Key{
		Identifier: Identifier{Value: identity, Source: identitySource},
		Pseudonym:  Pseudonym{Value: pseudonym, Source: identitySource},
	}
}

// Source returns the shared source of this key.
func (k Key) Source() string {
	return k.Identifier.Source
}

// ValueType reads the value type tag from the identifier source. Only
// meaningful for keys that passed through TypedKey.
func (k Key) ValueType() ValueType {
	return ValueType(k.Identifier.Source)
}

func (k Key) String() string {
	return fmt.Sprintf("Key %s", k.Pseudonym.Value)
}

// Describe renders the key as "original -> pseudonym", for error messages.
func (k Key) Describe() string {
	return fmt.Sprintf("%s -> %s", k.Identifier.Value, k.Pseudonym.Value)
}

// Typed constructors. Construction from a bare value fills in the source tag.

func NewPatientID(value string) Identifier       { return Identifier{value, string(PatientID)} }
func NewStudyInstanceUID(value string) Identifier {
	return Identifier{value, string(StudyInstanceUID)}
}
func NewSeriesInstanceUID(value string) Identifier {
	return Identifier{value, string(SeriesInstanceUID)}
}
func NewSOPInstanceUID(value string) Identifier  { return Identifier{value, string(SOPInstanceUID)} }
func NewAccessionNumber(value string) Identifier { return Identifier{value, string(AccessionNumber)} }
func NewSaltIdentifier(value string) Identifier  { return Identifier{value, string(Salt)} }

func NewPseudoPatientID(value string) Pseudonym { return Pseudonym{value, string(PatientID)} }
func NewPseudoStudyInstanceUID(value string) Pseudonym {
	return Pseudonym{value, string(StudyInstanceUID)}
}
func NewPseudoSeriesInstanceUID(value string) Pseudonym {
	return Pseudonym{value, string(SeriesInstanceUID)}
}
func NewPseudoSOPInstanceUID(value string) Pseudonym {
	return Pseudonym{value, string(SOPInstanceUID)}
}
func NewPseudoAccessionNumber(value string) Pseudonym {
	return Pseudonym{value, string(AccessionNumber)}
}
func NewPseudoSalt(value string) Pseudonym { return Pseudonym{value, string(Salt)} }

// NewTypedIdentifier and NewTypedPseudonym cover the generic case.
func NewTypedIdentifier(vt ValueType, value string) Identifier {
	return Identifier{Value: value, Source: string(vt)}
}

func NewTypedPseudonym(vt ValueType, value string) Pseudonym {
	return Pseudonym{Value: value, Source: string(vt)}
}
