// Package markdown splits Markdown documents into token-bounded chunks
// that preserve tables, code fences and heading structure. It generalizes
// the teacher's OptimizedMarkdownChunker (internal/chunking/markdown.go)
// from a fixed semantic-section chunker into the four strategies named in
// spec.md §4.2: basic, smart, advanced and strict_regex.
package markdown

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/chunkforge/pipeline/internal/tokenizer"
)

// Strategy selects one of the four splitting algorithms.
type Strategy string

const (
	StrategyBasic       Strategy = "basic"
	StrategySmart        Strategy = "smart"
	StrategyAdvanced     Strategy = "advanced"
	StrategyStrictRegex Strategy = "strict_regex"
)

// Common errors.
var (
	ErrEmptyContent    = errors.New("markdown: content cannot be empty")
	ErrContextCanceled = errors.New("markdown: operation was canceled")
)

// Config configures a Splitter. Zero values fall back to sensible defaults.
type Config struct {
	Strategy              Strategy
	ChunkTokenNumTarget   int
	ChunkTokenNumMax      int
	MinChunkTokens        int
	OverlapRatio          float64 // [0, 0.5], advanced only
	RegexPattern          string  // strict_regex only
	SplitAtHeadingLevels []int    // e.g. {1, 2}
}

func (c *Config) setDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySmart
	}
	if c.ChunkTokenNumTarget <= 0 {
		c.ChunkTokenNumTarget = 256
	}
	if c.ChunkTokenNumMax <= 0 {
		c.ChunkTokenNumMax = c.ChunkTokenNumTarget * 2
	}
	if c.MinChunkTokens <= 0 {
		c.MinChunkTokens = 20
	}
	if len(c.SplitAtHeadingLevels) == 0 {
		c.SplitAtHeadingLevels = []int{1, 2}
	}
}

func (c Config) headingLevelSplits() map[int]bool {
	m := make(map[int]bool, len(c.SplitAtHeadingLevels))
	for _, l := range c.SplitAtHeadingLevels {
		m[l] = true
	}
	return m
}

// Chunk is one output unit of a split. ChunkAssembler converts these into
// pipeline.Chunk/ChunkRecord values.
type Chunk struct {
	Content     string
	SourceIndex int
	Oversized   bool

	// Advanced-strategy metadata.
	Type        string
	HeadingPath []string
	TokenCount  int
}

// Splitter implements spec.md §4.2's MarkdownSplitter component.
type Splitter struct {
	cfg  Config
	tok  tokenizer.Tokenizer
	html *regexp.Regexp
}

// New builds a Splitter backed by tok for token budgeting.
func New(cfg Config, tok tokenizer.Tokenizer) (*Splitter, error) {
	cfg.setDefaults()
	if tok == nil {
		return nil, errors.New("markdown: tokenizer is required")
	}
	html, err := regexp.Compile(`(?s)<table[^>]*>.*?</table>`)
	if err != nil {
		return nil, fmt.Errorf("markdown: compile html table regex: %w", err)
	}
	return &Splitter{cfg: cfg, tok: tok, html: html}, nil
}

// Split dispatches to the configured strategy.
func (s *Splitter) Split(ctx context.Context, content string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	select {
	case <-ctx.Done():
		return nil, ErrContextCanceled
	default:
	}

	content = normalizeNewlines(content)

	switch s.cfg.Strategy {
	case StrategyBasic:
		return s.splitBasic(content)
	case StrategyStrictRegex:
		return s.splitStrictRegex(content)
	case StrategyAdvanced:
		return s.splitStructured(ctx, content, true)
	default:
		return s.splitStructured(ctx, content, false)
	}
}

// splitBasic isolates HTML tables as atomic chunks and greedily packs the
// remaining paragraphs up to the target token budget.
func (s *Splitter) splitBasic(content string) ([]Chunk, error) {
	var chunks []Chunk
	idx := 0

	segments := s.splitAroundHTMLTables(content)
	var pending strings.Builder
	pendingTokens := 0

	flush := func() {
		text := strings.TrimSpace(pending.String())
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{Content: text, SourceIndex: idx})
		idx++
		pending.Reset()
		pendingTokens = 0
	}

	for _, seg := range segments {
		if seg.isTable {
			flush()
			chunks = append(chunks, Chunk{Content: seg.text, SourceIndex: idx})
			idx++
			continue
		}
		for _, para := range smartSplitByParagraphs(seg.text) {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			n, err := s.tok.Count(para)
			if err != nil {
				return nil, err
			}
			if pendingTokens > 0 && pendingTokens+n > s.cfg.ChunkTokenNumTarget {
				flush()
			}
			if pending.Len() > 0 {
				pending.WriteString("\n\n")
			}
			pending.WriteString(para)
			pendingTokens += n
		}
	}
	flush()
	return mergeTrailingShortChunk(chunks, s.cfg.MinChunkTokens, s.tok), nil
}

// splitStrictRegex splits on RegexPattern irrespective of token budget;
// empty segments are dropped.
func (s *Splitter) splitStrictRegex(content string) ([]Chunk, error) {
	if s.cfg.RegexPattern == "" {
		return nil, errors.New("markdown: strict_regex strategy requires a pattern")
	}
	re, err := regexp.Compile(s.cfg.RegexPattern)
	if err != nil {
		return nil, fmt.Errorf("markdown: invalid regex pattern: %w", err)
	}

	parts := re.Split(content, -1)
	chunks := make([]Chunk, 0, len(parts))
	idx := 0
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Content: p, SourceIndex: idx})
		idx++
	}
	return chunks, nil
}

// splitStructured implements smart (AST-aware, heading-triggered,
// token-budgeted) and, when advanced is true, layers overlap and metadata
// on top. Grounded on the teacher's non-recursive buildDocumentTree walk.
func (s *Splitter) splitStructured(ctx context.Context, content string, advanced bool) ([]Chunk, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Table, extension.Strikethrough),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	source := []byte(content)
	doc := md.Parser().Parse(text.NewReader(source))

	blocks, err := s.flattenBlocks(doc, source)
	if err != nil {
		return nil, err
	}

	splitHeadings := s.cfg.headingLevelSplits()

	var chunks []Chunk
	var cur strings.Builder
	var curTokens int
	var headingPath []string
	idx := 0

	emit := func() {
		text := strings.TrimSpace(cur.String())
		if text == "" {
			return
		}
		c := Chunk{Content: text, SourceIndex: idx, TokenCount: curTokens}
		if advanced {
			c.HeadingPath = append([]string(nil), headingPath...)
		}
		chunks = append(chunks, c)
		idx++
		cur.Reset()
		curTokens = 0
	}

	for _, b := range blocks {
		select {
		case <-ctx.Done():
			return nil, ErrContextCanceled
		default:
		}

		n, err := s.tok.Count(b.text)
		if err != nil {
			return nil, err
		}

		if b.kind == ast.KindHeading && splitHeadings[b.level] {
			emit()
			headingPath = truncateHeadingPath(headingPath, b.level)
			headingPath = append(headingPath, b.text)
			cur.WriteString(b.text)
			curTokens = n
			continue
		}

		// Atomic oversize block (table, fenced code): emit alone, flagged.
		if (b.kind == ast.KindFencedCodeBlock || b.kind == ast.KindCodeBlock || isTableKind(b.kind)) && n > s.cfg.ChunkTokenNumMax {
			emit()
			chunks = append(chunks, Chunk{
				Content:     b.text,
				SourceIndex: idx,
				Oversized:   true,
				TokenCount:  n,
				HeadingPath: append([]string(nil), headingPath...),
			})
			idx++
			continue
		}

		if curTokens > 0 && curTokens+n > s.cfg.ChunkTokenNumTarget && !isTableKind(b.kind) && b.kind != ast.KindFencedCodeBlock && b.kind != ast.KindCodeBlock {
			emit()
			if advanced && s.cfg.OverlapRatio > 0 && len(chunks) > 0 {
				overlap := overlapTail(chunks[len(chunks)-1].Content, s.cfg.OverlapRatio, s.cfg.ChunkTokenNumTarget)
				if overlap != "" {
					cur.WriteString(overlap)
					cur.WriteString("\n\n")
					ovTok, _ := s.tok.Count(overlap)
					curTokens = ovTok
				}
			}
		}

		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(b.text)
		curTokens += n
	}
	emit()

	return mergeTrailingShortChunk(chunks, s.cfg.MinChunkTokens, s.tok), nil
}

func isTableKind(k ast.NodeKind) bool {
	return k.String() == "Table"
}

func truncateHeadingPath(path []string, level int) []string {
	if level-1 < len(path) {
		return path[:level-1]
	}
	return path
}

type htmlSegment struct {
	text    string
	isTable bool
}

func (s *Splitter) splitAroundHTMLTables(content string) []htmlSegment {
	locs := s.html.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []htmlSegment{{text: content}}
	}
	var segs []htmlSegment
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			segs = append(segs, htmlSegment{text: content[prev:loc[0]]})
		}
		segs = append(segs, htmlSegment{text: content[loc[0]:loc[1]], isTable: true})
		prev = loc[1]
	}
	if prev < len(content) {
		segs = append(segs, htmlSegment{text: content[prev:]})
	}
	return segs
}

type flatBlock struct {
	kind  ast.NodeKind
	level int
	text  string
}

// flattenBlocks walks the AST non-recursively (grounded on the teacher's
// walkFrame-stack traversal) and returns document-order leaf blocks:
// headings, paragraphs, lists, code blocks, raw HTML blocks and tables. An
// HTML block holding a <table> is given the table kind so it stays atomic.
func (s *Splitter) flattenBlocks(doc ast.Node, source []byte) ([]flatBlock, error) {
	if doc == nil {
		return nil, errors.New("markdown: nil document")
	}

	type frame struct {
		node ast.Node
	}
	var blocks []flatBlock
	stack := []frame{{node: doc}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node

		switch typed := n.(type) {
		case *ast.Heading:
			blocks = append(blocks, flatBlock{
				kind:  ast.KindHeading,
				level: typed.Level,
				text:  strings.Repeat("#", typed.Level) + " " + extractText(typed, source),
			})
			continue // heading children are inline text, already captured
		case *ast.Paragraph, *ast.CodeBlock, *ast.FencedCodeBlock, *ast.List:
			if txt := blockText(n, source); strings.TrimSpace(txt) != "" {
				blocks = append(blocks, flatBlock{kind: n.Kind(), text: txt})
			}
			continue
		case *ast.HTMLBlock:
			if txt := blockText(n, source); strings.TrimSpace(txt) != "" {
				kind := n.Kind()
				if strings.Contains(strings.ToLower(txt), "<table") {
					kind = extast.KindTable
				}
				blocks = append(blocks, flatBlock{kind: kind, text: txt})
			}
			continue
		}
		if n.Kind().String() == "Table" {
			if txt := blockText(n, source); strings.TrimSpace(txt) != "" {
				blocks = append(blocks, flatBlock{kind: n.Kind(), text: txt})
			}
			continue
		}

		if n.HasChildren() {
			child := n.LastChild()
			for child != nil {
				stack = append(stack, frame{node: child})
				child = child.PreviousSibling()
			}
		}
	}

	// Stack traversal above pushes each node's children last-to-first, so
	// popping (LIFO) already yields document order, matching the
	// teacher's buildDocumentTree.
	return blocks, nil
}

func blockText(node ast.Node, source []byte) string {
	if hasLines, ok := node.(interface{ Lines() *text.Segments }); ok {
		lines := hasLines.Lines()
		if lines.Len() > 0 {
			start := lines.At(0).Start
			stop := lines.At(lines.Len() - 1).Stop
			if stop <= len(source) {
				return string(source[start:stop])
			}
		}
	}
	return extractText(node, source)
}

func extractText(node ast.Node, source []byte) string {
	var sb strings.Builder
	type tframe struct {
		node     ast.Node
		entering bool
	}
	stack := []tframe{{node: node, entering: true}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !f.entering {
			continue
		}
		if textNode, ok := f.node.(*ast.Text); ok {
			seg := textNode.Segment
			if seg.Stop <= len(source) {
				sb.Write(seg.Value(source))
			}
		}
		if f.node.HasChildren() {
			child := f.node.LastChild()
			for child != nil {
				stack = append(stack, tframe{node: child, entering: true})
				child = child.PreviousSibling()
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// smartSplitByParagraphs splits on blank lines while keeping fenced code
// blocks intact, identical in spirit to the teacher's
// smartSplitByParagraphs.
func smartSplitByParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	result := make([]string, 0, len(parts))
	var inCode bool
	var cur strings.Builder

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				cur.WriteString("\n\n")
				cur.WriteString(part)
				result = append(result, cur.String())
				cur.Reset()
				inCode = false
			} else {
				if cur.Len() > 0 {
					result = append(result, cur.String())
					cur.Reset()
				}
				cur.WriteString(part)
				inCode = true
			}
		} else if inCode {
			cur.WriteString("\n\n")
			cur.WriteString(part)
		} else {
			if cur.Len() > 0 {
				result = append(result, cur.String())
				cur.Reset()
			}
			result = append(result, part)
		}
	}
	if cur.Len() > 0 {
		result = append(result, cur.String())
	}
	return result
}

// overlapTail returns the trailing overlapRatio*target tokens of content,
// cut at a sentence boundary when possible, else a word boundary.
// Grounded on the teacher's getSmartOverlap/getSimpleOverlap, generalized
// from byte-length to an approximate token budget and forbidden from
// cutting inside a fenced code block.
func overlapTail(content string, overlapRatio float64, target int) string {
	if overlapRatio <= 0 || strings.Contains(content, "```") {
		return ""
	}
	overlapChars := int(overlapRatio * float64(target) * 5) // ~5 chars/token heuristic for the cut point only
	if overlapChars <= 0 || len(content) <= overlapChars {
		return content
	}

	sentences := splitSentences(content)
	if len(sentences) >= 2 {
		var sb strings.Builder
		for i := len(sentences) - 1; i >= 0 && sb.Len() < overlapChars; i-- {
			s := strings.TrimSpace(sentences[i])
			if s == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(s)
		}
		return strings.TrimSpace(sb.String())
	}

	start := len(content) - overlapChars
	for start > 0 && start < len(content) && content[start] != ' ' && content[start] != '\n' {
		start--
	}
	return strings.TrimSpace(content[start:])
}

var sentenceRegex = regexp.MustCompile(`[.!?。！？]\s*`)

func splitSentences(s string) []string {
	return sentenceRegex.Split(s, -1)
}

// mergeTrailingShortChunk folds a trailing chunk below MinChunkTokens into
// its predecessor, unless it is the document's only chunk (spec.md §4.2
// edge case).
func mergeTrailingShortChunk(chunks []Chunk, minTokens int, tok tokenizer.Tokenizer) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	n, err := tok.Count(last.Content)
	if err != nil || n >= minTokens {
		return chunks
	}
	prev := &chunks[len(chunks)-2]
	prev.Content = strings.TrimSpace(prev.Content + "\n\n" + last.Content)
	return chunks[:len(chunks)-1]
}

func normalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return content
}
