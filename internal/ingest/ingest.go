// Package ingest loads delimited dataset files into the tabular store
// and archives ingested batches as parquet.
package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/schemarag/schemarag/internal/store"
)

// Batch is a parsed dataset file: a header and its records, all still
// in text form.
type Batch struct {
	Columns []string
	Records [][]string
}

// ColumnType is the SQL type a column is loaded as.
type ColumnType string

const (
	TypeBigint  ColumnType = "BIGINT"
	TypeDouble  ColumnType = "DOUBLE"
	TypeVarchar ColumnType = "VARCHAR"
)

// PlaceholderStyle selects the bind-parameter syntax of the target
// store backend.
type PlaceholderStyle int

const (
	PlaceholderQuestion PlaceholderStyle = iota // duckdb
	PlaceholderDollar                           // postgres
)

// ReadCSV parses a CSV stream with a header row. Every record must have
// the header's width.
func ReadCSV(r io.Reader) (Batch, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Batch{}, fmt.Errorf("csv input is empty")
	}
	if err != nil {
		return Batch{}, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return Batch{}, fmt.Errorf("csv header has an empty column name at position %d", i)
		}
		columns[i] = name
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("read csv record %d: %w", len(records)+1, err)
		}
		records = append(records, record)
	}
	return Batch{Columns: columns, Records: records}, nil
}

// InferColumnTypes scans every value of each column and picks the
// narrowest SQL type all non-empty values fit. Empty values are treated
// as NULL and constrain nothing.
func InferColumnTypes(batch Batch) []ColumnType {
	types := make([]ColumnType, len(batch.Columns))
	for col := range batch.Columns {
		couldBeInt := true
		couldBeFloat := true
		sawValue := false
		for _, record := range batch.Records {
			value := strings.TrimSpace(record[col])
			if value == "" {
				continue
			}
			sawValue = true
			if couldBeInt {
				if _, err := strconv.ParseInt(value, 10, 64); err != nil {
					couldBeInt = false
				}
			}
			if !couldBeInt && couldBeFloat {
				if _, err := strconv.ParseFloat(value, 64); err != nil {
					couldBeFloat = false
				}
			}
			if !couldBeInt && !couldBeFloat {
				break
			}
		}
		switch {
		case !sawValue:
			types[col] = TypeVarchar
		case couldBeInt:
			types[col] = TypeBigint
		case couldBeFloat:
			types[col] = TypeDouble
		default:
			types[col] = TypeVarchar
		}
	}
	return types
}

// Loader writes batches into a SQL tabular store, replacing the target
// table the way the ingestion script always has (drop and recreate).
type Loader struct {
	DB    *sql.DB
	Style PlaceholderStyle
}

const insertChunkSize = 500

// Load replaces table with the batch's contents and returns the number
// of rows inserted.
func (l *Loader) Load(ctx context.Context, table string, batch Batch) (int, error) {
	if l.DB == nil {
		return 0, fmt.Errorf("db handle is required")
	}
	if strings.TrimSpace(table) == "" {
		return 0, fmt.Errorf("table is required")
	}
	if len(batch.Columns) == 0 {
		return 0, fmt.Errorf("batch has no columns")
	}
	for i, record := range batch.Records {
		if len(record) != len(batch.Columns) {
			return 0, fmt.Errorf("record %d has %d values, want %d", i+1, len(record), len(batch.Columns))
		}
	}

	types := InferColumnTypes(batch)
	defs := make([]string, len(batch.Columns))
	for i, column := range batch.Columns {
		defs[i] = fmt.Sprintf("%s %s", store.QuoteIdent(column), types[i])
	}

	quotedTable := store.QuoteIdent(table)
	if _, err := l.DB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quotedTable)); err != nil {
		return 0, fmt.Errorf("drop table %q: %w", table, err)
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quotedTable, strings.Join(defs, ", "))
	if _, err := l.DB.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("create table %q: %w", table, err)
	}

	inserted := 0
	for start := 0; start < len(batch.Records); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(batch.Records) {
			end = len(batch.Records)
		}
		chunk := batch.Records[start:end]
		if err := l.insertChunk(ctx, quotedTable, batch.Columns, types, chunk); err != nil {
			return inserted, err
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

func (l *Loader) insertChunk(ctx context.Context, quotedTable string, columns []string, types []ColumnType, records [][]string) error {
	quotedColumns := make([]string, len(columns))
	for i, column := range columns {
		quotedColumns[i] = store.QuoteIdent(column)
	}

	var placeholders []string
	args := make([]any, 0, len(records)*len(columns))
	position := 0
	for _, record := range records {
		row := make([]string, len(columns))
		for col, raw := range record {
			position++
			row[col] = l.placeholder(position)
			value, err := convertValue(raw, types[col])
			if err != nil {
				return fmt.Errorf("column %q: %w", columns[col], err)
			}
			args = append(args, value)
		}
		placeholders = append(placeholders, "("+strings.Join(row, ", ")+")")
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quotedTable, strings.Join(quotedColumns, ", "), strings.Join(placeholders, ", "))
	if _, err := l.DB.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (l *Loader) placeholder(position int) string {
	if l.Style == PlaceholderDollar {
		return "$" + strconv.Itoa(position)
	}
	return "?"
}

func convertValue(raw string, columnType ColumnType) (any, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	switch columnType {
	case TypeBigint:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q as bigint: %w", value, err)
		}
		return parsed, nil
	case TypeDouble:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q as double: %w", value, err)
		}
		return parsed, nil
	default:
		return value, nil
	}
}
