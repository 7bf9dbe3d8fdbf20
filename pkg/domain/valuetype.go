package domain

import (
	dErrors "pims/pkg/domain-errors"
)

// ValueType identifies the kind of real-world entity an identifier or
// pseudonym stands for. The set is closed: PIMS keyfile templates are defined
// per value type, so an unknown tag means the mapping cannot be interpreted.
//
// DICOM tag names are used for values pseudonymized out of DICOM headers.
type ValueType string

const (
	PatientID         ValueType = "PatientID"
	StudyInstanceUID  ValueType = "StudyInstanceUID"
	SeriesInstanceUID ValueType = "SeriesInstanceUID"
	SOPInstanceUID    ValueType = "SOPInstanceUID"
	AccessionNumber   ValueType = "AccessionNumber"
	Salt              ValueType = "Salt"
)

// knownValueTypes is the single source of truth for the closed set.
var knownValueTypes = []ValueType{
	PatientID,
	StudyInstanceUID,
	SeriesInstanceUID,
	SOPInstanceUID,
	AccessionNumber,
	Salt,
}

// KnownValueTypes returns the closed set in declaration order.
func KnownValueTypes() []ValueType {
	out := make([]ValueType, len(knownValueTypes))
	copy(out, knownValueTypes)
	return out
}

// IsValid reports whether v is one of the known value types.
func (v ValueType) IsValid() bool {
	for _, known := range knownValueTypes {
		if v == known {
			return true
		}
	}
	return false
}

func (v ValueType) String() string {
	return string(v)
}

// ParseValueType constructs a ValueType from external input, typically the
// source field of a wire-level record. Unknown tags fail loudly with the full
// known set in the message; there is no untyped pass-through.
func ParseValueType(s string) (ValueType, error) {
	v := ValueType(s)
	if !v.IsValid() {
		return "", dErrors.Newf(
			dErrors.CodeTypeReconciliation,
			"unknown value type %q, known types: %v", s, knownValueTypes,
		)
	}
	return v, nil
}
