// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tokenize converts prompts to token ids, truncated to the text encoder's maximum length.
package tokenize

import (
	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxLength is the context length of the CLIP text encoders used by Stable Diffusion.
const DefaultMaxLength = 77

// Encoder converts text to token ids. It is satisfied by go-huggingface tokenizers.
type Encoder interface {
	Encode(text string) []int
}

// SpecialTokensEncoder is an Encoder that also knows its special token ids, like the
// go-huggingface api.Tokenizer.
type SpecialTokensEncoder interface {
	Encoder
	SpecialTokenID(token api.SpecialToken) (int, error)
}

// Tokenizer is an Encoder whose output is never longer than MaxLength. No padding is added.
type Tokenizer interface {
	Encoder
	MaxLength() int
}

type truncated struct {
	encoder   Encoder
	maxLength int

	// withSpecial wraps the ids with bosID and eosID.
	withSpecial  bool
	bosID, eosID int
}

// Truncate returns a Tokenizer that drops the ids of encoder beyond maxLength.
// If maxLength <= 0, DefaultMaxLength is used.
func Truncate(encoder Encoder, maxLength int) Tokenizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &truncated{encoder: encoder, maxLength: maxLength}
}

// WithSpecialTokens returns a Tokenizer that emits `BOS + ids + EOS`, truncating the ids of the
// text so the EOS token is always kept within maxLength.
//
// The beginning and end of sentence ids are taken from encoder. If maxLength <= 0,
// DefaultMaxLength is used.
func WithSpecialTokens(encoder SpecialTokensEncoder, maxLength int) (Tokenizer, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if maxLength < 2 {
		return nil, errors.Errorf("max length %d can't hold the beginning and end of sentence tokens", maxLength)
	}
	bosID, err := encoder.SpecialTokenID(api.TokBeginningOfSentence)
	if err != nil {
		return nil, errors.WithMessage(err, "tokenizer has no beginning of sentence token")
	}
	eosID, err := encoder.SpecialTokenID(api.TokEndOfSentence)
	if err != nil {
		return nil, errors.WithMessage(err, "tokenizer has no end of sentence token")
	}
	return &truncated{encoder: encoder, maxLength: maxLength, withSpecial: true, bosID: bosID, eosID: eosID}, nil
}

// Encode implements Encoder.
func (t *truncated) Encode(text string) []int {
	ids := t.encoder.Encode(text)
	if !t.withSpecial {
		if len(ids) > t.maxLength {
			ids = append([]int(nil), ids[:t.maxLength]...)
		}
		return ids
	}
	ids = ids[:min(len(ids), t.maxLength-2)]
	out := make([]int, 0, len(ids)+2)
	out = append(out, t.bosID)
	out = append(out, ids...)
	return append(out, t.eosID)
}

// MaxLength implements Tokenizer.
func (t *truncated) MaxLength() int { return t.maxLength }

// FromHub downloads (or reuses from the local cache) the tokenizer of the HuggingFace repository
// repoID and returns it truncated to maxLength, with the beginning and end of sentence tokens
// added to every prompt. Tokenizers without those tokens are only truncated.
//
// authToken is only needed for private or gated repositories, it can be left empty.
func FromHub(repoID, authToken string, maxLength int) (Tokenizer, error) {
	repo := hub.New(repoID).WithProgressBar(klog.V(1).Enabled())
	if authToken != "" {
		repo = repo.WithAuth(authToken)
	}
	if err := repo.DownloadInfo(false); err != nil {
		return nil, errors.WithMessagef(err, "failed to get info of HuggingFace repository %q", repoID)
	}
	tok, err := tokenizers.New(repo)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create tokenizer from %q", repoID)
	}
	truncatedTok, err := WithSpecialTokens(tok, maxLength)
	if err != nil {
		klog.Warningf("tokenizer from %q used without special tokens: %v", repoID, err)
		truncatedTok = Truncate(tok, maxLength)
	}
	klog.V(1).Infof("tokenizer loaded from %q, max length %d", repoID, truncatedTok.MaxLength())
	return truncatedTok, nil
}
