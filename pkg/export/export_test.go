package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rosterTable() Table {
	return Table{
		Title:   "Math roster",
		Columns: []string{"Name", "Email"},
		Rows: [][]string{
			{"Ada", "ada@example.com"},
			{"Grace, Jr.", "grace@example.com"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestRenderCSVQuotesCells(t *testing.T) {
	out, err := Render(FormatCSV, rosterTable())
	require.NoError(t, err)
	assert.Equal(t, "Name,Email\nAda,ada@example.com\n\"Grace, Jr.\",grace@example.com\n", string(out))
}

func TestRenderPDFProducesDocument(t *testing.T) {
	out, err := Render(FormatPDF, rosterTable())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	table := rosterTable()
	table.Rows = append(table.Rows, []string{"only-one"})

	_, err := Render(FormatCSV, table)
	assert.Error(t, err)
	_, err = Render(FormatPDF, table)
	assert.Error(t, err)
}
