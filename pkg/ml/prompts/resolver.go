// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prompts

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Resolver returns the text prompt for the example at index.
//
// Implementations take all randomness from rng, so they are safe for concurrent use as long
// as each caller uses its own rng.
type Resolver interface {
	Resolve(rng *rand.Rand, index int) (string, error)
}

// TemplateResolver fills a random template of its set with the subject token, for any index.
type TemplateResolver struct {
	templates TemplateSet
	tokens    *TokenMap
}

var _ Resolver = (*TemplateResolver)(nil)

// NewTemplateResolver creates a TemplateResolver. A missing token map is only reported when
// resolving (ErrNoTokenMap).
func NewTemplateResolver(templates TemplateSet, tokens *TokenMap) *TemplateResolver {
	return &TemplateResolver{templates: templates, tokens: tokens}
}

// Resolve implements Resolver.
func (r *TemplateResolver) Resolve(rng *rand.Rand, index int) (string, error) {
	subject, err := r.tokens.SubjectToken()
	if err != nil {
		return "", errors.WithMessagef(err, "template set %q", r.templates.Name)
	}
	if r.templates.Len() == 0 {
		return "", errors.Errorf("template set %q is empty", r.templates.Name)
	}
	text := r.templates.Random(rng, subject)
	klog.V(2).Infof("prompt #%d: %q", index, text)
	return text, nil
}

// CaptionResolver uses the caption stored for each index, with the placeholders of the token map
// (if any) replaced.
type CaptionResolver struct {
	captions []string
	tokens   *TokenMap
}

var _ Resolver = (*CaptionResolver)(nil)

// NewCaptionResolver creates a CaptionResolver. tokens may be nil.
func NewCaptionResolver(captions []string, tokens *TokenMap) *CaptionResolver {
	return &CaptionResolver{captions: captions, tokens: tokens}
}

// Resolve implements Resolver. index is taken modulo the number of captions; rng is not used.
func (r *CaptionResolver) Resolve(_ *rand.Rand, index int) (string, error) {
	n := len(r.captions)
	if n == 0 {
		return "", errors.New("no captions to resolve prompts from")
	}
	index %= n
	if index < 0 {
		index += n
	}
	text := r.tokens.Apply(strings.TrimSpace(r.captions[index]))
	klog.V(2).Infof("prompt #%d: %q", index, text)
	return text, nil
}
