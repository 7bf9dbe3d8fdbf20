package domain

// Reconciliation of untyped wire-level records into the closed typed set.
// These are pure transforms: on success the returned value carries a verified
// ValueType tag in its source field, on failure the caller gets a
// CodeTypeReconciliation error naming the offending tag and the known set.

// TypedIdentifier verifies that the identifier's source is a known value
// type.
func TypedIdentifier(identifier Identifier) (Identifier, error) {
	vt, err := ParseValueType(identifier.Source)
	if err != nil {
		return Identifier{}, err
	}
	return NewTypedIdentifier(vt, identifier.Value), nil
}

// TypedPseudonym casts the pseudonym to the given value type. The explicit
// value type wins over whatever source the wire record carried, since
// reidentify responses echo the identity source rather than the pseudonym's.
func TypedPseudonym(pseudonym Pseudonym, valueType ValueType) (Pseudonym, error) {
	if !valueType.IsValid() {
		_, err := ParseValueType(string(valueType))
		return Pseudonym{}, err
	}
	return NewTypedPseudonym(valueType, pseudonym.Value), nil
}

// TypedKey verifies both sides of the key against the closed set. The
// pseudonym inherits the identifier's value type, restoring the shared-source
// invariant.
func TypedKey(key Key) (Key, error) {
	identifier, err := TypedIdentifier(key.Identifier)
	if err != nil {
		return Key{}, err
	}
	pseudonym, err := TypedPseudonym(key.Pseudonym, ValueType(identifier.Source))
	if err != nil {
		return Key{}, err
	}
	return NewKey(identifier, pseudonym), nil
}

// TypedKeys applies TypedKey to a whole result list, failing on the first
// unknown tag.
func TypedKeys(keys []Key) ([]Key, error) {
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		typed, err := TypedKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, typed)
	}
	return out, nil
}
