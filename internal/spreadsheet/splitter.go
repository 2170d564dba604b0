// Package spreadsheet implements SpreadsheetSplitter (spec.md §4.3):
// workbook loading with merged-cell normalization, HTML/row/auto chunking
// strategies and the smart chunk-size heuristic. Grounded on
// original_source/.../excel_chunker.py's EnhancedExcelChunker, reimplemented
// against excelize instead of openpyxl/pandas.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Strategy selects how sheet rows are rendered into chunks.
type Strategy string

const (
	StrategyHTML Strategy = "html"
	StrategyRow  Strategy = "row"
	StrategyAuto Strategy = "auto"
)

// Config configures a Splitter.
type Config struct {
	Strategy              Strategy
	HTMLChunkRows         int // 0 == smart/derived
	PreprocessMergedCells bool
	NumberFormatting      bool
}

func (c *Config) setDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyAuto
	}
}

// Splitter implements the SpreadsheetSplitter component.
type Splitter struct {
	cfg Config
}

// New builds a Splitter.
func New(cfg Config) *Splitter {
	cfg.setDefaults()
	return &Splitter{cfg: cfg}
}

// Chunk is one emitted spreadsheet chunk: either an HTML table fragment or
// a rendered row string. Spreadsheet chunks carry no page numbers (see
// spec.md §9's open question, left unspecified).
type Chunk struct {
	Content     string
	SourceIndex int
	Sheet       string
}

// Split loads workbook bytes and dispatches to the configured strategy.
// Non-Excel input (no OLE/zip magic bytes) is attempted as CSV with UTF-8,
// falling back to GBK with error replacement.
func (s *Splitter) Split(data []byte) ([]Chunk, error) {
	if !looksLikeOfficeZipOrOLE(data) {
		return s.splitCSV(data)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: failed to open workbook: %w", err)
	}
	defer f.Close()

	if s.cfg.PreprocessMergedCells {
		if err := preprocessMergedCells(f); err != nil {
			// Matches the Python fallback: continue rather than failing
			// the whole document. The error is discarded unlogged, and
			// ranges of sheets already processed stay expanded.
			_ = err
		}
	}

	switch s.cfg.Strategy {
	case StrategyHTML:
		return s.htmlChunking(f)
	case StrategyRow:
		return s.rowChunking(f)
	default:
		return s.autoChunking(f)
	}
}

func looksLikeOfficeZipOrOLE(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) { // PK\x03\x04 (zip, .xlsx)
		return true
	}
	if bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0}) { // OLE (.xls)
		return true
	}
	return false
}

// preprocessMergedCells expands every merged range in every sheet by
// copying the top-left cell's value into each cell of the range, then
// unmerging it. Runs on the already-loaded *excelize.File (the in-memory
// working copy); the caller-owned source bytes are never touched.
func preprocessMergedCells(f *excelize.File) error {
	for _, sheet := range f.GetSheetList() {
		ranges, err := f.GetMergeCells(sheet)
		if err != nil {
			return err
		}
		for _, rng := range ranges {
			topLeft := rng.GetStartAxis()
			value := rng.GetCellValue()

			if err := f.UnmergeCell(sheet, rng.GetStartAxis(), rng.GetEndAxis()); err != nil {
				continue
			}

			cells, err := cellsInRange(rng.GetStartAxis(), rng.GetEndAxis())
			if err != nil {
				continue
			}
			for _, cell := range cells {
				if cell == topLeft {
					continue
				}
				_ = f.SetCellValue(sheet, cell, value)
			}
		}
	}
	return nil
}

func cellsInRange(start, end string) ([]string, error) {
	c1, r1, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return nil, err
	}
	c2, r2, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return nil, err
	}
	var cells []string
	for r := r1; r <= r2; r++ {
		for c := c1; c <= c2; c++ {
			name, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return nil, err
			}
			cells = append(cells, name)
		}
	}
	return cells, nil
}

// calculateSmartChunkSize reproduces _calculate_smart_chunk_size verbatim:
// simple tables (<=3 cols) get rows/3 clamped to [8,20]; medium (<=8 cols)
// get rows/4 clamped to [6,15]; complex tables get rows/5 clamped to [4,12].
func calculateSmartChunkSize(colCount, dataRowCount int) int {
	if dataRowCount <= 0 {
		return 12
	}
	switch {
	case colCount <= 3:
		return clamp(dataRowCount/3, 8, 20)
	case colCount <= 8:
		return clamp(dataRowCount/4, 6, 15)
	default:
		return clamp(dataRowCount/5, 4, 12)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

func (s *Splitter) effectiveChunkRows(colCount, dataRowCount int) int {
	if s.cfg.HTMLChunkRows > 0 {
		return s.cfg.HTMLChunkRows
	}
	return calculateSmartChunkSize(colCount, dataRowCount)
}

func (s *Splitter) htmlChunking(f *excelize.File) ([]Chunk, error) {
	var chunks []Chunk
	idx := 0

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("spreadsheet: read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		header := rows[0]
		dataRows := rows[1:]
		if len(dataRows) == 0 {
			continue
		}

		chunkRows := s.effectiveChunkRows(nonEmptyCount(header), len(dataRows))
		if chunkRows <= 0 {
			chunkRows = 12
		}

		var headerHTML strings.Builder
		headerHTML.WriteString("<tr>")
		for _, h := range header {
			headerHTML.WriteString("<th>" + h + "</th>")
		}
		headerHTML.WriteString("</tr>")

		numChunks := (len(dataRows)-1)/chunkRows + 1
		for i := 0; i < numChunks; i++ {
			start := i * chunkRows
			end := start + chunkRows
			if end > len(dataRows) {
				end = len(dataRows)
			}
			block := dataRows[start:end]
			if !anyNonEmpty(block) {
				continue
			}

			var tb strings.Builder
			tb.WriteString("<table><caption>" + sheet + "</caption>")
			tb.WriteString(headerHTML.String())
			for _, r := range block {
				tb.WriteString("<tr>")
				for _, cellVal := range padRow(r, len(header)) {
					tb.WriteString("<td>" + s.formatCell(cellVal) + "</td>")
				}
				tb.WriteString("</tr>")
			}
			tb.WriteString("</table>\n")

			chunks = append(chunks, Chunk{Content: tb.String(), SourceIndex: idx, Sheet: sheet})
			idx++
		}
	}
	return chunks, nil
}

func (s *Splitter) rowChunking(f *excelize.File) ([]Chunk, error) {
	var chunks []Chunk
	idx := 0

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("spreadsheet: read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		headers := rows[0]

		for i := 1; i < len(rows); i++ {
			row := rows[i]
			if !anyNonEmpty([][]string{row}) {
				continue
			}
			var parts []string
			for j, v := range row {
				if strings.TrimSpace(v) == "" {
					continue
				}
				header := ""
				if j < len(headers) {
					header = headers[j]
				}
				parts = append(parts, fmt.Sprintf("%s: %s", header, v))
			}
			if len(parts) == 0 {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:     strings.Join(parts, ", "),
				SourceIndex: idx,
				Sheet:       sheet,
			})
			idx++
		}
	}
	return chunks, nil
}

// autoChunking chooses html if a sheet has >=4 columns and >=20 rows, else
// row. The choice is made once per workbook, from the first populated
// sheet's shape, and applied to every sheet (matching the original's
// single-pass chunk_excel entry point).
func (s *Splitter) autoChunking(f *excelize.File) ([]Chunk, error) {
	useHTML := false
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		if nonEmptyCount(rows[0]) >= 4 && len(rows) >= 20 {
			useHTML = true
		}
		break
	}
	if useHTML {
		return s.htmlChunking(f)
	}
	return s.rowChunking(f)
}

func (s *Splitter) formatCell(v string) string {
	if !s.cfg.NumberFormatting {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	abs := f
	if abs < 0 {
		abs = -abs
	}
	if abs < 1000 {
		return v
	}
	return formatThousands(f)
}

func formatThousands(f float64) string {
	neg := f < 0
	if neg {
		f = -f
	}
	whole := int64(f)
	frac := f - float64(whole)

	s := strconv.FormatInt(whole, 10)
	var out []byte
	for i, c := range []byte(s) {
		if i != 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	result := string(out)
	if frac > 0 {
		result = fmt.Sprintf("%s%s", result, strconv.FormatFloat(frac, 'f', 2, 64)[1:])
	}
	if neg {
		result = "-" + result
	}
	return result
}

func nonEmptyCount(row []string) int {
	n := 0
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

func anyNonEmpty(rows [][]string) bool {
	for _, r := range rows {
		if nonEmptyCount(r) > 0 {
			return true
		}
	}
	return false
}

func padRow(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	padded := make([]string, n)
	copy(padded, row)
	return padded
}

// splitCSV parses non-Excel input as CSV, trying UTF-8 first and falling
// back to GBK with invalid-byte replacement, matching the original's
// chardet-driven decode fallback.
func (s *Splitter) splitCSV(data []byte) ([]Chunk, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if !utf8.Valid(data) || err != nil || len(records) == 0 {
		decoded, decErr := decodeGBK(data)
		if decErr != nil {
			return nil, fmt.Errorf("spreadsheet: failed to decode non-Excel input as UTF-8 or GBK: %w", decErr)
		}
		records, err = csv.NewReader(bytes.NewReader(decoded)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("spreadsheet: failed to parse CSV: %w", err)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for r, row := range records {
		for c, v := range row {
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				continue
			}
			_ = f.SetCellValue(sheet, name, v)
		}
	}

	switch s.cfg.Strategy {
	case StrategyHTML:
		return s.htmlChunking(f)
	case StrategyRow:
		return s.rowChunking(f)
	default:
		return s.autoChunking(f)
	}
}

func decodeGBK(data []byte) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(data), simplifiedchinese.GBK.NewDecoder())
	return io.ReadAll(reader)
}
