// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package tuf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
)

// canonicalize returns the deterministic JSON encoding signatures are
// produced over: lexicographic key order, no insignificant whitespace,
// stable integer and string formatting.
func canonicalize(v any) ([]byte, error) {
	return cjson.EncodeCanonical(v)
}

// mergeExtra folds the fields of extra into the JSON object produced by
// marshaling known, preferring the values already present in known's
// marshaled form. Used by each Signed payload's MarshalJSON to put back the
// unrecognized fields collected on Unmarshal so they round-trip.
func mergeExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	knownBytes, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}

	if len(extra) == 0 {
		return knownBytes, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(knownBytes, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}

	return json.Marshal(merged)
}

// ComputeKeyID derives a key's keyid the way the rest of the TUF ecosystem
// does: the sha256 digest, hex-encoded, of the canonical JSON encoding of
// the key descriptor with its own keyid field cleared.
func ComputeKeyID(key Key) (string, error) {
	key.KeyID = ""
	canon, err := canonicalize(key)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// splitExtra unmarshals data into known, then returns every top-level field
// in data that isn't one of known's declared JSON fields, so it can be
// stashed in an Extra map and replayed by mergeExtra on the way back out.
func splitExtra(data []byte, known any) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	knownBytes, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	var knownFields map[string]json.RawMessage
	if err := json.Unmarshal(knownBytes, &knownFields); err != nil {
		return nil, err
	}

	extra := map[string]json.RawMessage{}
	for key, value := range all {
		if _, isKnown := knownFields[key]; !isKnown {
			extra[key] = value
		}
	}

	return extra, nil
}
