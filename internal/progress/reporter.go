// Package progress implements ProgressReporter (spec.md §4.10): best-effort
// publication of progress fraction, message, status, run code, chunk
// count and processing duration to the metadata store's document row.
// Grounded on internal/adapters/postgres.go's *pgx.Conn idiom and
// document_parser.py's _update_document_progress dynamic UPDATE builder.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

// maxMessageBytes bounds progress_msg so a verbose upstream error (an
// HTML error page from a misconfigured parse service, say) can't blow
// past the column's practical size.
const maxMessageBytes = 4000

// Update is a partial set of fields to publish; only non-nil fields are
// written, matching the original's dynamic column list.
type Update struct {
	Progress        *float64
	Message         *string
	Status          *pipeline.DocumentStatus
	Run             *string
	ChunkCount      *int
	ProcessDuration *float64
}

// Reporter publishes Updates to the document table. Failures are logged
// and swallowed: progress reporting must never abort the pipeline
// (spec.md §4.10's best-effort contract).
type Reporter struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New builds a Reporter over an existing connection pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{pool: pool, log: log}
}

// Report applies an Update to document docID. Errors are logged, not
// returned, so callers can fire-and-forget progress updates inline in the
// pipeline without threading error handling through every stage.
func (r *Reporter) Report(ctx context.Context, docID string, u Update) {
	if err := r.report(ctx, docID, u); err != nil {
		r.log.Warn("progress report failed", "doc_id", docID, "error", err)
	}
}

func (r *Reporter) report(ctx context.Context, docID string, u Update) error {
	query, args, ok := buildUpdateQuery(docID, u)
	if !ok {
		return nil
	}
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

// buildUpdateQuery constructs the dynamic UPDATE statement for the
// non-nil fields of u. ok is false when u has no fields set, meaning no
// statement should be executed.
func buildUpdateQuery(docID string, u Update) (query string, args []any, ok bool) {
	var sets []string

	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.Message != nil {
		add("progress_msg", sanitizeMessage(*u.Message))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Run != nil {
		add("run", *u.Run)
	}
	if u.ChunkCount != nil {
		add("chunk_num", *u.ChunkCount)
	}
	if u.ProcessDuration != nil {
		add("process_duration", *u.ProcessDuration)
	}

	if len(sets) == 0 {
		return "", nil, false
	}

	args = append(args, docID)
	query = fmt.Sprintf("UPDATE document SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args, true
}

// Fraction helper constructors matching spec.md §4.8's progress
// allocation checkpoints, so orchestrator call sites read declaratively.
func Fraction(f float64) *float64 { return &f }
func Msg(s string) *string        { return &s }
func RunCode(s string) *string    { return &s }
func ChunkCount(n int) *int       { return &n }
func Duration(d float64) *float64 { return &d }

// StatusOf returns a pointer to s, for Update.Status.
func StatusOf(s pipeline.DocumentStatus) *pipeline.DocumentStatus { return &s }

// sanitizeMessage collapses progress_msg to one line, truncates it to
// maxMessageBytes without splitting a multi-byte rune, and drops any
// invalid UTF-8 an upstream error string might carry (a raw HTML error
// page, a binary-garbled exception message).
func sanitizeMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	msg = safeUTF8Truncate(msg, maxMessageBytes)
	return sanitizeUTF8(msg)
}

// safeUTF8Truncate truncates str to at most maxBytes bytes without
// cutting a multi-byte rune in half.
func safeUTF8Truncate(str string, maxBytes int) string {
	if len(str) <= maxBytes {
		return str
	}
	for i := maxBytes; i > 0 && i > maxBytes-utf8.UTFMax; i-- {
		if utf8.RuneStart(str[i]) {
			return str[:i]
		}
	}
	return str[:maxBytes]
}

// sanitizeUTF8 drops any invalid UTF-8 byte sequences from str.
func sanitizeUTF8(str string) string {
	if utf8.ValidString(str) {
		return str
	}
	var buf strings.Builder
	buf.Grow(len(str))
	for len(str) > 0 {
		r, size := utf8.DecodeRuneInString(str)
		if r == utf8.RuneError && size == 1 {
			str = str[1:]
			continue
		}
		buf.WriteRune(r)
		str = str[size:]
	}
	return buf.String()
}
