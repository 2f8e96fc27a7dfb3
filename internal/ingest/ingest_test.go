package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/parquet-go/parquet-go"
)

const sampleCSV = `InvoiceNo,Quantity,UnitPrice,Country
536365,6,2.55,United Kingdom
536366,8,3.39,France
536367,,1.85,Germany
`

func TestReadCSV(t *testing.T) {
	batch, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	wantColumns := []string{"InvoiceNo", "Quantity", "UnitPrice", "Country"}
	if len(batch.Columns) != len(wantColumns) {
		t.Fatalf("columns = %v, want %v", batch.Columns, wantColumns)
	}
	for i, column := range wantColumns {
		if batch.Columns[i] != column {
			t.Errorf("column %d = %q, want %q", i, batch.Columns[i], column)
		}
	}
	if len(batch.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(batch.Records))
	}
	if batch.Records[2][1] != "" {
		t.Errorf("empty field = %q, want empty", batch.Records[2][1])
	}
}

func TestReadCSVEmptyInput(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("ReadCSV() error = nil, want error for empty input")
	}
}

func TestReadCSVEmptyHeaderName(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("a,,c\n1,2,3\n")); err == nil {
		t.Fatal("ReadCSV() error = nil, want error for empty header name")
	}
}

func TestInferColumnTypes(t *testing.T) {
	batch, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	types := InferColumnTypes(batch)
	want := []ColumnType{TypeBigint, TypeBigint, TypeDouble, TypeVarchar}
	for i, columnType := range want {
		if types[i] != columnType {
			t.Errorf("type[%d] = %s, want %s", i, types[i], columnType)
		}
	}
}

func TestInferColumnTypesAllEmpty(t *testing.T) {
	batch := Batch{
		Columns: []string{"blank"},
		Records: [][]string{{""}, {""}},
	}
	types := InferColumnTypes(batch)
	if types[0] != TypeVarchar {
		t.Fatalf("all-empty column type = %s, want VARCHAR", types[0])
	}
}

func TestLoaderLoad(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	batch, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}

	loader := &Loader{DB: db, Style: PlaceholderQuestion}
	inserted, err := loader.Load(context.Background(), "transactions", batch)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if inserted != 3 {
		t.Fatalf("Load() inserted = %d, want 3", inserted)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM "transactions"`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 3 {
		t.Fatalf("row count = %d, want 3", count)
	}

	var nulls int
	if err := db.QueryRow(`SELECT count(*) FROM "transactions" WHERE "Quantity" IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("count nulls: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("null count = %d, want 1", nulls)
	}
}

func TestLoaderLoadReplacesTable(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	loader := &Loader{DB: db, Style: PlaceholderQuestion}
	first := Batch{Columns: []string{"a"}, Records: [][]string{{"1"}, {"2"}}}
	if _, err := loader.Load(context.Background(), "transactions", first); err != nil {
		t.Fatalf("Load() first error = %v", err)
	}
	second := Batch{Columns: []string{"b"}, Records: [][]string{{"x"}}}
	if _, err := loader.Load(context.Background(), "transactions", second); err != nil {
		t.Fatalf("Load() second error = %v", err)
	}

	var value string
	if err := db.QueryRow(`SELECT "b" FROM "transactions"`).Scan(&value); err != nil {
		t.Fatalf("read replaced table: %v", err)
	}
	if value != "x" {
		t.Fatalf("replaced value = %q, want %q", value, "x")
	}
}

func TestLoaderLoadRaggedRecord(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	loader := &Loader{DB: db}
	batch := Batch{Columns: []string{"a", "b"}, Records: [][]string{{"1"}}}
	if _, err := loader.Load(context.Background(), "transactions", batch); err == nil {
		t.Fatal("Load() error = nil, want error for ragged record")
	}
}

func TestEncodeParquet(t *testing.T) {
	batch, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	data, err := EncodeParquet(batch)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open parquet output: %v", err)
	}
	if file.NumRows() != 3 {
		t.Fatalf("parquet rows = %d, want 3", file.NumRows())
	}
	fields := file.Schema().Fields()
	if len(fields) != 4 {
		t.Fatalf("parquet fields = %d, want 4", len(fields))
	}
	names := make(map[string]bool, len(fields))
	for _, field := range fields {
		names[field.Name()] = true
	}
	for _, column := range batch.Columns {
		if !names[column] {
			t.Errorf("parquet schema missing column %q", column)
		}
	}
}

func TestEncodeParquetNoColumns(t *testing.T) {
	if _, err := EncodeParquet(Batch{}); err == nil {
		t.Fatal("EncodeParquet() error = nil, want error for empty batch")
	}
}
