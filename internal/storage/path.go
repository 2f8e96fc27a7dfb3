package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// maxArchiveParts bounds the part probe to what the five-digit key
// format can represent.
const maxArchiveParts = 100000

// BuildArchivePath returns the object key under which an ingested batch
// of a table is archived as parquet.
func BuildArchivePath(table string, ingestedAt time.Time, part int) (string, error) {
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	if part < 0 {
		return "", fmt.Errorf("part must be >= 0")
	}

	ts := ingestedAt.UTC()
	return path.Join(
		"archive",
		table,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("batch-%02d%02d%02d-%05d.parquet", ts.Hour(), ts.Minute(), ts.Second(), part),
	), nil
}

// NextArchivePath returns the first archive key for the table and
// timestamp that does not already exist in the store. Part numbers
// restart at zero each second, so the probe usually stops at the first
// key; collisions only occur when two ingest runs land in the same
// second.
func NextArchivePath(ctx context.Context, store ObjectStore, table string, ingestedAt time.Time) (string, error) {
	for part := 0; part < maxArchiveParts; part++ {
		key, err := BuildArchivePath(table, ingestedAt, part)
		if err != nil {
			return "", err
		}
		_, err = store.Stat(ctx, key)
		if errors.Is(err, ErrObjectNotFound) {
			return key, nil
		}
		if err != nil {
			return "", fmt.Errorf("probe archive key %q: %w", key, err)
		}
	}
	return "", fmt.Errorf("no free archive part for table %q at %s", table, ingestedAt.UTC().Format(time.RFC3339))
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
