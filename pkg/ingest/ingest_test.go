package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "sales.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseNumber(t *testing.T) {
	cases := map[string]string{
		"":          "0",
		"  ":        "0",
		"-3":        "-3",
		"12.5":      "12.5",
		"1.234":     "1.234",
		"12,5":      "12.5",
		"-1.234,56": "-1234.56",
		"1,234.56":  "1234.56",
		"1,234":     "1234",
		"1.234.567": "1234567",
		`"-7,25"`:   "-7.25",
	}
	for in, want := range cases {
		got, err := ParseNumber(in)
		require.NoError(t, err, in)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%q: got %s want %s", in, got, want)
	}

	_, err := ParseNumber("abc")
	assert.Error(t, err)
}

func TestReadCSV_Semicolon(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader("Ref;Articulo;a;b;c;d;e;f;Venta\n1042;Pan;;;;;;;-3\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "-3", rows[1][8])
}

func TestReadCSV_Latin1(t *testing.T) {
	data := []byte("Ref,Art\xedculo\n1,Caf\xe9\n")
	rows, err := ReadCSV(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, "Artículo", rows[0][1])
	assert.Equal(t, "Café", rows[1][1])
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Ref", "Articulo", "", "", "", "", "", "", "Venta"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"1042", "Pan", "", "", "", "", "", "", "-3,5"}))
	path := filepath.Join(t.TempDir(), "ventas.xlsx")
	require.NoError(t, f.SaveAs(path))

	rows, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1042", rows[1][0])
	assert.Equal(t, "-3,5", rows[1][8])
}

func TestFormatOf(t *testing.T) {
	f, err := FormatOf("x.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	f, err = FormatOf("x.xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	_, err = FormatOf("x.pdf")
	assert.Error(t, err)
}

func row(ref, name, venta string) []string {
	return []string{ref, name, "", "", "", "", "", "", venta}
}

func TestImport(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	im := NewImporter(s, zap.NewNop())

	rows := [][]string{
		row("Referencia", "Articulo", "Venta"),
		row("1042", "Pan", "-3"),
		row("1042", "Pan", "-2,5"),
		row("ABC-7", "Leche", "-1.234,5"),
		row("99", "Devuelto", "4"),
		row("", "Sin ref", "-1"),
		{"7", "Corto"},
		row("55", "Roto", "x-y"),
	}
	rep, err := im.Import(ctx, rows, "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, 7, rep.Rows)
	assert.Equal(t, 4, rep.Skipped)
	assert.Equal(t, 2, rep.ItemsCreated)
	assert.Equal(t, 2, rep.Records)

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1042), items[0].ID)
	assert.Equal(t, "Pan (1042)", items[0].Name)
	assert.Equal(t, int64(1043), items[1].ID)
	assert.Equal(t, "Leche (ABC-7)", items[1].Name)

	sales, err := s.ListSales(ctx, store.SalesListOpts{})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, 5.5, sales[0].Quantity)
	assert.Equal(t, 1234.5, sales[1].Quantity)
	assert.Equal(t, 0.0, sales[0].Promotion())
	assert.False(t, sales[0].Holiday())

	rep, err = im.Import(ctx, rows, "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ItemsCreated, "existing items are matched by reference")
	sales, err = s.ListSales(ctx, store.SalesListOpts{})
	require.NoError(t, err)
	assert.Len(t, sales, 2, "re-importing a day replaces its facts")
}

func TestImport_BadDate(t *testing.T) {
	_, err := NewImporter(newStore(t), zap.NewNop()).Import(context.Background(), nil, "10/03/2024")
	assert.Error(t, err)
}

func TestImportFile_CSV(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(t.TempDir(), "ventas.csv")
	require.NoError(t, os.WriteFile(path, []byte("Ref,Art,a,b,c,d,e,f,Venta\n5,Queso,,,,,,,\"-2,0\"\n"), 0o644))

	rep, err := NewImporter(s, zap.NewNop()).ImportFile(context.Background(), path, "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Records)

	sales, err := s.ListSales(context.Background(), store.SalesListOpts{ItemID: 5})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 2.0, sales[0].Quantity)
}

func TestSample(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	n, err := Sample(ctx, s, SampleOptions{Items: 2, Days: 30, Now: now, Seed: 7}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	sales, err := s.ListSales(ctx, store.SalesListOpts{})
	require.NoError(t, err)
	require.Len(t, sales, 60)
	assert.Equal(t, "2024-02-14", sales[0].Date)
	assert.Equal(t, "2024-03-14", sales[len(sales)-1].Date)
	for _, r := range sales {
		assert.GreaterOrEqual(t, r.Quantity, 0.0)
		assert.True(t, r.PromotionDiscount.Valid)
		p := r.Promotion()
		assert.True(t, p == 0 || (p >= 10 && p <= 30), "promotion %v", p)
	}

	ids, err := s.ListItemIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}
