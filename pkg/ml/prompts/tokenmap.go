// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prompts

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoTokenMap is returned when resolving a template prompt without a subject token.
var ErrNoTokenMap = errors.New("template prompts require a token map with a subject token")

type tokenEntry struct {
	placeholder, value string
}

// TokenMap maps placeholder tokens (e.g. "<krk>") to their replacement strings, keeping insertion
// order.
//
// Subject is the value used to fill template slots. If left empty the value of the first entry is
// used instead.
//
// A nil *TokenMap is valid and empty.
type TokenMap struct {
	Subject string
	entries []tokenEntry
}

// NewTokenMap creates a TokenMap from subject and a list of placeholder/value pairs.
func NewTokenMap(subject string, pairs ...string) (*TokenMap, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.Errorf("NewTokenMap requires placeholder/value pairs, got %d strings", len(pairs))
	}
	tm := &TokenMap{Subject: subject}
	for ii := 0; ii < len(pairs); ii += 2 {
		if err := tm.Add(pairs[ii], pairs[ii+1]); err != nil {
			return nil, err
		}
	}
	return tm, nil
}

// ParseTokenMap parses entries in the form "placeholder=value", as given in the command line.
// The split happens at the first "=", so values may contain "=".
func ParseTokenMap(subject string, tokens []string) (*TokenMap, error) {
	tm := &TokenMap{Subject: subject}
	for _, token := range tokens {
		placeholder, value, found := strings.Cut(token, "=")
		if !found {
			return nil, errors.Errorf("invalid token %q: format is \"placeholder=value\"", token)
		}
		if err := tm.Add(placeholder, value); err != nil {
			return nil, err
		}
	}
	return tm, nil
}

// Add appends placeholder -> value. Adding an existing placeholder replaces its value in place.
func (tm *TokenMap) Add(placeholder, value string) error {
	if placeholder == "" {
		return errors.New("empty placeholder in token map")
	}
	for ii := range tm.entries {
		if tm.entries[ii].placeholder == placeholder {
			tm.entries[ii].value = value
			return nil
		}
	}
	tm.entries = append(tm.entries, tokenEntry{placeholder: placeholder, value: value})
	return nil
}

// Len returns the number of entries.
func (tm *TokenMap) Len() int {
	if tm == nil {
		return 0
	}
	return len(tm.entries)
}

// SubjectToken returns the string used to fill template slots: Subject if set, otherwise the
// value of the first entry.
func (tm *TokenMap) SubjectToken() (string, error) {
	if tm == nil {
		return "", ErrNoTokenMap
	}
	if tm.Subject != "" {
		return tm.Subject, nil
	}
	if len(tm.entries) == 0 {
		return "", ErrNoTokenMap
	}
	return tm.entries[0].value, nil
}

// Apply replaces every occurrence of every placeholder in text, one placeholder at a time in
// insertion order. A later replacement sees the output of the earlier ones.
func (tm *TokenMap) Apply(text string) string {
	if tm == nil {
		return text
	}
	for _, entry := range tm.entries {
		text = strings.ReplaceAll(text, entry.placeholder, entry.value)
	}
	return text
}

// String implements fmt.Stringer.
func (tm *TokenMap) String() string {
	if tm == nil {
		return "TokenMap{}"
	}
	parts := make([]string, 0, len(tm.entries))
	for _, entry := range tm.entries {
		parts = append(parts, fmt.Sprintf("%q: %q", entry.placeholder, entry.value))
	}
	s := "TokenMap{" + strings.Join(parts, ", ") + "}"
	if tm.Subject != "" {
		s += fmt.Sprintf(" (subject %q)", tm.Subject)
	}
	return s
}
