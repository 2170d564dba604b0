package spreadsheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheet string, header []string, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		idx, err := f.NewSheet(sheet)
		require.NoError(t, err)
		f.SetActiveSheet(idx)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}

	for c, h := range header {
		name, err := excelize.CoordinatesToCellName(c+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, name, h))
	}
	for r, row := range rows {
		for c, v := range row {
			name, err := excelize.CoordinatesToCellName(c+1, r+2)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, name, v))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func threeColRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{"a", "b", "c"}
	}
	return rows
}

func TestHTMLChunkingThreeColumnsTwentyFiveRows(t *testing.T) {
	data := buildWorkbook(t, "Data", []string{"col1", "col2", "col3"}, threeColRows(25))

	s := New(Config{Strategy: StrategyHTML, HTMLChunkRows: 10})
	chunks, err := s.Split(data)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Contains(t, c.Content, "<table>")
		assert.Contains(t, c.Content, "<caption>Data</caption>")
	}
}

func TestRowChunkingSkipsEmptyRows(t *testing.T) {
	rows := [][]string{
		{"x", "y"},
		{"", ""},
		{"p", "q"},
	}
	data := buildWorkbook(t, "Sheet1", []string{"h1", "h2"}, rows)

	s := New(Config{Strategy: StrategyRow})
	chunks, err := s.Split(data)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "h1: x, h2: y", chunks[0].Content)
	assert.Equal(t, "h1: p, h2: q", chunks[1].Content)
}

func TestSmartChunkSizeThreeTiers(t *testing.T) {
	assert.Equal(t, 20, calculateSmartChunkSize(2, 100))
	assert.Equal(t, 8, calculateSmartChunkSize(2, 10))
	assert.Equal(t, 15, calculateSmartChunkSize(6, 100))
	assert.Equal(t, 6, calculateSmartChunkSize(6, 10))
	assert.Equal(t, 12, calculateSmartChunkSize(12, 100))
	assert.Equal(t, 4, calculateSmartChunkSize(12, 10))
}

func TestAutoChunkingPicksRowForSmallSheet(t *testing.T) {
	data := buildWorkbook(t, "Sheet1", []string{"a", "b"}, [][]string{{"1", "2"}, {"3", "4"}})

	s := New(Config{Strategy: StrategyAuto})
	chunks, err := s.Split(data)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.NotContains(t, chunks[0].Content, "<table>")
}

func TestSplitCSVFallback(t *testing.T) {
	csvData := []byte("name,age\nalice,30\nbob,40\n")

	s := New(Config{Strategy: StrategyRow})
	chunks, err := s.Split(csvData)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "name: alice, age: 30", chunks[0].Content)
}

func TestNumberFormattingThousandsSeparator(t *testing.T) {
	data := buildWorkbook(t, "Sheet1", []string{"amount"}, [][]string{{"12345"}, {"99"}})

	s := New(Config{Strategy: StrategyHTML, HTMLChunkRows: 10, NumberFormatting: true})
	chunks, err := s.Split(data)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, strings.Contains(chunks[0].Content, "12,345"))
	assert.True(t, strings.Contains(chunks[0].Content, "<td>99</td>"))
}
