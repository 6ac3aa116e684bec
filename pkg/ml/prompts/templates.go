// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package prompts resolves the text prompt of each training example: either a random template
// formatted with the subject token, or a stored caption with its placeholder tokens substituted.
package prompts

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Slot is the substitution slot in a template.
const Slot = "{}"

// TemplateSet is a named, ordered collection of templates, each with exactly one Slot.
type TemplateSet struct {
	Name      string
	Templates []string
}

// Names of the known template sets.
const (
	ObjectTemplates = "object"
	StyleTemplates  = "style"
	NullTemplates   = "null"
)

var (
	// ErrUnknownTemplate is returned for template set names other than "object", "style" or "null".
	ErrUnknownTemplate = errors.New("unknown template set")

	objectTemplates = []string{
		"a photo of a {}",
		"a rendering of a {}",
		"a cropped photo of the {}",
		"the photo of a {}",
		"a photo of a clean {}",
		"a photo of a dirty {}",
		"a dark photo of the {}",
		"a photo of my {}",
		"a photo of the cool {}",
		"a close-up photo of a {}",
		"a bright photo of the {}",
		"a cropped photo of a {}",
		"a photo of the {}",
		"a good photo of the {}",
		"a photo of one {}",
		"a close-up photo of the {}",
		"a rendition of the {}",
		"a photo of the clean {}",
		"a rendition of a {}",
		"a photo of a nice {}",
		"a good photo of a {}",
		"a photo of the nice {}",
		"a photo of the small {}",
		"a photo of the weird {}",
		"a photo of the large {}",
		"a photo of a cool {}",
		"a photo of a small {}",
	}

	styleTemplates = []string{
		"a painting in the style of {}",
		"a rendering in the style of {}",
		"a cropped painting in the style of {}",
		"the painting in the style of {}",
		"a clean painting in the style of {}",
		"a dirty painting in the style of {}",
		"a dark painting in the style of {}",
		"a picture in the style of {}",
		"a cool painting in the style of {}",
		"a close-up painting in the style of {}",
		"a bright painting in the style of {}",
		"a cropped painting in the style of {}",
		"a good painting in the style of {}",
		"a close-up painting in the style of {}",
		"a rendition in the style of {}",
		"a nice painting in the style of {}",
		"a small painting in the style of {}",
		"a weird painting in the style of {}",
		"a large painting in the style of {}",
	}

	nullTemplates = []string{Slot}
)

// TemplateNames returns the names accepted by Templates.
func TemplateNames() []string {
	return []string{ObjectTemplates, StyleTemplates, NullTemplates}
}

// Templates returns the named template set. The returned slice is a copy.
func Templates(name string) (TemplateSet, error) {
	var templates []string
	switch name {
	case ObjectTemplates:
		templates = objectTemplates
	case StyleTemplates:
		templates = styleTemplates
	case NullTemplates:
		templates = nullTemplates
	default:
		return TemplateSet{}, errors.Wrapf(ErrUnknownTemplate, "%q (valid values are %q)", name, TemplateNames())
	}
	return TemplateSet{Name: name, Templates: append([]string(nil), templates...)}, nil
}

// Len returns the number of templates in the set.
func (ts TemplateSet) Len() int { return len(ts.Templates) }

// Format returns the template at position idx with its slot replaced by subject.
func (ts TemplateSet) Format(idx int, subject string) string {
	return strings.Replace(ts.Templates[idx], Slot, subject, 1)
}

// Random formats a template picked uniformly at random.
func (ts TemplateSet) Random(rng *rand.Rand, subject string) string {
	return ts.Format(rng.Intn(len(ts.Templates)), subject)
}
