package ingest

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EncodeParquet renders a batch as a single parquet file. Every column
// is written as an optional string so the archive mirrors the source
// file byte for byte; type inference is a load-time concern only.
func EncodeParquet(batch Batch) ([]byte, error) {
	if len(batch.Columns) == 0 {
		return nil, fmt.Errorf("batch has no columns")
	}

	group := parquet.Group{}
	for _, column := range batch.Columns {
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("batch", group)

	buf := &bytes.Buffer{}
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)

	rows := make([]map[string]any, 0, len(batch.Records))
	for _, record := range batch.Records {
		row := make(map[string]any, len(batch.Columns))
		for i, column := range batch.Columns {
			if record[i] == "" {
				continue
			}
			row[column] = record[i]
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
