// Package csvimport validates CSV exports and loads them into the staging
// and reference tables.
package csvimport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/meteorwatch/vmdb/internal/metrics"
)

const insertBatchSize = 500

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrUnknownFile is returned for a file whose header matches no kind.
var ErrUnknownFile = errors.New("unknown CSV file")

// Options controls validation.
type Options struct {
	// Delete clears the target table before the file is loaded.
	Delete bool
	// Permissive relaxes limits that real exports sometimes exceed.
	Permissive bool
	// Repair fixes recoverable values instead of rejecting the row.
	Repair bool
}

// FileReport summarises the import of one file.
type FileReport struct {
	Path     string
	Kind     Kind
	Read     int
	Imported int
	Rejected int
}

func (r *FileReport) String() string {
	return fmt.Sprintf("%s (%s): %d of %d rows imported", r.Path, r.Kind, r.Imported, r.Read)
}

// Importer loads CSV files into the database.
type Importer struct {
	db      *sqlx.DB
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// New creates an importer.
func New(db *sqlx.DB, opts Options, m *metrics.Metrics, logger *zap.SugaredLogger) *Importer {
	return &Importer{db: db, opts: opts, metrics: m, logger: logger}
}

// ImportFile imports one file. Rejected rows are logged and counted; an
// error means the file as a whole was not imported.
func (im *Importer) ImportFile(ctx context.Context, path string) (*FileReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return &FileReport{Path: path}, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()

	return im.Import(ctx, path, f)
}

// Import reads a CSV file from r. name identifies the file in logs.
func (im *Importer) Import(ctx context.Context, name string, r io.Reader) (*FileReport, error) {
	report := &FileReport{Path: name}
	logger := im.logger.With("file", name)

	header, records, err := readCSV(r)
	if err != nil {
		return report, fmt.Errorf("%s seems not to be a valid CSV file: %w", name, err)
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	k, err := detect(present)
	if err != nil {
		return report, fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	report.Kind = k.name
	logger.Infow("parsing file", "kind", k.name)

	var valid []interface{}
	for i, rec := range records {
		report.Read++

		values := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rec) {
				values[col] = rec[j]
			}
		}
		rw := &row{line: i + 2, values: values, opts: im.opts, logger: logger}
		rw.id = rw.get(k.idColumn)

		v, err := k.parse(rw)
		if err != nil {
			report.Rejected++
			im.count(k.name, "rejected")
			logger.Errorw("row rejected", "error", err)
			continue
		}
		valid = append(valid, v)
	}

	if err := im.store(ctx, k, valid); err != nil {
		return report, err
	}
	report.Imported = len(valid)
	for range valid {
		im.count(k.name, "imported")
	}

	logger.Infow(report.String(), "rejected", report.Rejected)
	return report, nil
}

func (im *Importer) store(ctx context.Context, k *kind, records []interface{}) error {
	tx, err := im.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if im.opts.Delete {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+k.table); err != nil {
			return fmt.Errorf("error clearing %s: %w", k.table, err)
		}
	}

	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		if _, err := tx.NamedExecContext(ctx, k.insert, records[start:end]); err != nil {
			return fmt.Errorf("error writing %s: %w", k.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing %s: %w", k.table, err)
	}
	return nil
}

func (im *Importer) count(k Kind, outcome string) {
	if im.metrics != nil {
		im.metrics.ImportRows.WithLabelValues(string(k), outcome).Inc()
	}
}

// readCSV reads a semicolon separated file with a header line. Header names
// are lower-cased; a leading byte order mark is dropped.
func readCSV(r io.Reader) (header []string, records [][]string, err error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err = cr.Read()
	if err != nil {
		return nil, nil, err
	}
	for i, col := range header {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
