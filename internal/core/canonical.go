package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes arbitrary invocation arguments into a stable,
// sort-keyed JSON form. encoding/json already sorts map keys when
// marshaling, so round-tripping through map[string]any before the final
// marshal yields a byte-identical encoding regardless of the original
// field/key order.
func Canonicalize(args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArgumentNotSerializable, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArgumentNotSerializable, err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArgumentNotSerializable, err)
	}
	return canonical, nil
}

// ComputeID implements the default deterministic id generator:
// hash(name, version, parent_id, canonical(arguments)), sha256 over a
// compact JSON encoding of the fixed field set (in declaration order),
// whose data field is the already key-sorted canonical arguments.
func ComputeID(name, version string, parentID TaskID, hasParent bool, data json.RawMessage) TaskID {
	parent := ""
	if hasParent {
		parent = string(parentID)
	}
	payload := struct {
		Name     string          `json:"name"`
		Version  string          `json:"version"`
		ParentID string          `json:"parent_id"`
		Data     json.RawMessage `json:"data"`
	}{Name: name, Version: version, ParentID: parent, Data: data}

	// json.Marshal of this fixed-field struct is already deterministic
	// (field order is declaration order, not map order); Data itself was
	// already canonicalized by Canonicalize.
	b, err := json.Marshal(payload)
	if err != nil {
		// Canonicalize already validated serializability; this path is
		// unreachable in practice, but fail closed rather than panic.
		b = []byte(fmt.Sprintf("%s|%s|%s|%s", name, version, parent, data))
	}

	sum := sha256.Sum256(b)
	return TaskID(hex.EncodeToString(sum[:]))
}
