package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pharmacy-ledger/catalog"
	"github.com/warp/pharmacy-ledger/ledger"
	"github.com/warp/pharmacy-ledger/ledger/store"
)

const sampleJSON = `{
  "items": [
    {"name": "Paracetamol 500mg", "quantity": 120, "price": "2.50", "rate": 1.1, "batch": "PCM-2291", "expiry": "2027-03-31"},
    {"name": "Cetirizine", "quantity": 40, "price": 1.75}
  ]
}`

const sampleCSV = `expiry,name,price,quantity,rate,batch
2027-03-31,Paracetamol 500mg,2.50,120,1.10,PCM-2291
,Cetirizine,1.75,40,,
`

func TestParse_JSON(t *testing.T) {
	entries, err := catalog.Parse(strings.NewReader(sampleJSON), catalog.FormatJSON)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "Paracetamol 500mg", first.Product)
	assert.Equal(t, int64(120), first.Quantity)
	assert.Equal(t, "2.50", first.Price.StringFixed(2))
	require.NotNil(t, first.Rate)
	assert.Equal(t, "1.10", first.Rate.StringFixed(2))
	require.NotNil(t, first.Expiry)
	assert.Equal(t, "2027-03-31", first.Expiry.Format("2006-01-02"))

	assert.Nil(t, entries[1].Rate)
	assert.Nil(t, entries[1].Expiry)
}

func TestParse_JSONArray(t *testing.T) {
	entries, err := catalog.Parse(strings.NewReader(`[{"name":"Zinc","quantity":5,"price":"1"}]`), catalog.FormatJSON)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Zinc", entries[0].Product)
}

func TestParse_CSVMatchesJSON(t *testing.T) {
	fromJSON, err := catalog.Parse(strings.NewReader(sampleJSON), catalog.FormatJSON)
	require.NoError(t, err)
	fromCSV, err := catalog.Parse(strings.NewReader(sampleCSV), catalog.FormatCSV)
	require.NoError(t, err)

	require.Len(t, fromCSV, len(fromJSON))
	for i := range fromJSON {
		assert.Equal(t, fromJSON[i].Product, fromCSV[i].Product)
		assert.Equal(t, fromJSON[i].Quantity, fromCSV[i].Quantity)
		assert.True(t, fromJSON[i].Price.Equal(fromCSV[i].Price))
		assert.Equal(t, fromJSON[i].Batch, fromCSV[i].Batch)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format catalog.Format
		row    int
	}{
		{"csv missing column", "name,price\nA,1\n", catalog.FormatCSV, 0},
		{"csv bad quantity", "name,quantity,price\nA,1,1\nB,many,1\n", catalog.FormatCSV, 2},
		{"json missing name", `[{"quantity":1,"price":"1"}]`, catalog.FormatJSON, 1},
		{"json bad expiry", `[{"name":"A","quantity":1,"price":"1","expiry":"31/03/2027"}]`, catalog.FormatJSON, 1},
		{"json malformed", `{"items": [`, catalog.FormatJSON, 0},
		{"unknown format", "", catalog.Format("xml"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Parse(strings.NewReader(tt.input), tt.format)
			require.Error(t, err)
			var re *catalog.RowError
			if tt.row > 0 {
				require.ErrorAs(t, err, &re)
				assert.Equal(t, tt.row, re.Row)
			} else {
				assert.False(t, errors.As(err, &re))
			}
		})
	}
}

func TestParseFile_PicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opening.CSV")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	entries, err := catalog.ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = catalog.ParseFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoad_AppliesEntriesThroughEngine(t *testing.T) {
	// GIVEN: A parsed catalog
	// WHEN: Loading it twice
	// THEN: Quantities add up and the ledger accounts for every unit

	ctx := context.Background()
	mem := store.NewMemory()
	e := ledger.NewEngine(mem)
	e.Logger = zerolog.Nop()

	entries, err := catalog.Parse(strings.NewReader(sampleJSON), catalog.FormatJSON)
	require.NoError(t, err)

	n, err := catalog.Load(ctx, e, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = catalog.Load(ctx, e, entries)
	require.NoError(t, err)

	item, err := mem.Find(ctx, "paracetamol 500mg")
	require.NoError(t, err)
	assert.Equal(t, int64(240), item.Quantity)
	assert.Equal(t, "PCM-2291", item.Batch)

	discrepancies, err := ledger.NewQuery(mem).Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestLoad_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	e := ledger.NewEngine(store.NewMemory())
	e.Logger = zerolog.Nop()

	entries := []ledger.StockEntryRequest{
		{Product: "A", Quantity: 1},
		{Product: "B", Quantity: -1},
		{Product: "C", Quantity: 1},
	}
	n, err := catalog.Load(ctx, e, entries)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}
