// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonicalize produces the canonical encoding of a spec document used for
// hashing: stable key order, UTF-8, LF line endings, no trailing whitespace.
// The input is the verbatim document bytes; key order in the source file
// does not affect the result.
func Canonicalize(raw []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, normalizeForJSON(doc), 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Hash returns the sha256 hex digest of the canonicalized document.
func Hash(raw []byte) (string, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SpecHash returns the hash of this spec's verbatim bytes.
func (s *Spec) SpecHash() (string, error) {
	return Hash(s.Raw)
}

// writeCanonical emits a deterministic JSON-like rendering with sorted keys.
func writeCanonical(buf *bytes.Buffer, v interface{}, depth int) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k], depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case string:
		// Normalize line endings inside string values.
		b, err := json.Marshal(strings.ReplaceAll(t, "\r\n", "\n"))
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
