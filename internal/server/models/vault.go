package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Vault maps entry keys to entries and remembers insertion order. It
// serialises as a plain JSON object with keys in that order.
type Vault struct {
	keys    []string
	entries map[string]Entry
}

func NewVault() *Vault {
	return &Vault{entries: make(map[string]Entry)}
}

func (v *Vault) Len() int { return len(v.keys) }

// Keys returns a copy of the keys in insertion order.
func (v *Vault) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

func (v *Vault) Get(key string) (Entry, bool) {
	e, ok := v.entries[key]
	return e, ok
}

// Upsert stores e under key. An existing key keeps its position.
func (v *Vault) Upsert(key string, e Entry) {
	if v.entries == nil {
		v.entries = make(map[string]Entry)
	}
	if _, ok := v.entries[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.entries[key] = e
}

// Delete removes key and reports whether it was present.
func (v *Vault) Delete(key string) bool {
	if _, ok := v.entries[key]; !ok {
		return false
	}
	delete(v.entries, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
	return true
}

func (v *Vault) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		eb, err := json.Marshal(v.entries[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(eb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts only a JSON object of entries. Anything else, such as
// null, an array, trailing data or an entry without a password, is an error.
func (v *Vault) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("vault: expected object, got %v", tok)
	}

	nv := NewVault()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("vault: expected key, got %v", tok)
		}
		var e *Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("vault: entry %q: %w", key, err)
		}
		if e == nil || e.Password == "" {
			return fmt.Errorf("vault: entry %q has no password", key)
		}
		nv.Upsert(key, *e)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("vault: trailing data")
	}

	*v = *nv
	return nil
}
