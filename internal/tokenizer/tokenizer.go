// Package tokenizer provides token count estimation and coarse/fine
// tokenization for text fragments, used as the single budget unit across
// the splitters. Its constructor takes functional options (see Option).
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and tokenizes text. Implementations must be cheap
// (amortized O(n) in code points) and make no locale assumptions.
type Tokenizer interface {
	// Count returns the number of model tokens in text.
	Count(text string) (int, error)
	// Coarse splits text into space-joinable tokens for search indexing.
	Coarse(text string) []string
	// Fine further splits coarse tokens into normalized subtokens.
	Fine(tokens []string) []string
}

type config struct {
	encodingName string
}

// Option configures the Tokenizer constructor.
type Option func(*config)

// WithEncoding sets the tiktoken encoding used for Count. Defaults to
// cl100k_base, matching the embedding models this pipeline targets.
func WithEncoding(name string) Option {
	return func(c *config) {
		if name != "" {
			c.encodingName = name
		}
	}
}

type tikTokenizer struct {
	enc *tiktoken.Tiktoken
}

// New returns a Tokenizer backed by tiktoken-go for Count and a
// CJK-aware word splitter for Coarse/Fine.
//
// Count uses the real BPE encoding so chunk budgets match what the
// embedding model actually sees. Coarse/Fine never call the encoder:
// they produce search-indexable token strings, not model token ids.
func New(opts ...Option) (Tokenizer, error) {
	cfg := &config{encodingName: "cl100k_base"}
	for _, opt := range opts {
		opt(cfg)
	}

	enc, err := tiktoken.GetEncoding(cfg.encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: failed to load encoding %q: %w", cfg.encodingName, err)
	}
	return &tikTokenizer{enc: enc}, nil
}

func (t *tikTokenizer) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids := t.enc.Encode(text, nil, nil)
	return len(ids), nil
}

// Coarse splits text the way the original markdown chunker estimated
// tokens: each CJK rune is its own token, and each run of other letters or
// digits is one token, ended by any rune that is neither. Coarse never
// calls the tiktoken encoder.
func (t *tikTokenizer) Coarse(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func (t *tikTokenizer) Fine(tokens []string) []string {
	fine := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		lowered := strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSpace(r)
		}))
		if lowered != "" {
			fine = append(fine, lowered)
		}
	}
	return fine
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
