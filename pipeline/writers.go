package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scop-orders/models"
)

var csvHeader = []string{
	"authorization_code", "reference_code", "buyer", "seller", "order_type",
	"channel", "order_date", "delivery_date", "status",
	"detail_layout", "detail_products", "total_ordered_qty", "total_weight",
	"totals_source", "low_confidence", "detail_error",
}

func csvRecord(row *models.ListingRow) []string {
	record := []string{
		row.AuthorizationCode,
		row.ReferenceCode,
		row.Buyer,
		row.Seller,
		row.OrderType,
		row.Channel,
		row.OrderDate,
		row.DeliveryDate,
		row.Status,
	}
	d := row.Detail
	if d == nil {
		return append(record, "", "", "", "", "", "", "")
	}
	if d.Error != "" {
		return append(record, "", "", "", "", "", "", d.Error)
	}
	return append(record,
		d.Layout,
		strconv.Itoa(len(d.Products)),
		d.Totals.OrderedQty,
		d.Totals.SubtotalWeight,
		d.Totals.Source,
		strconv.FormatBool(d.Totals.LowConfidence),
		"",
	)
}

// CSVWriter writes one record per listing row.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
	mu     sync.Mutex
}

// NewCSVWriter creates filename, and any missing parent directory, and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends one record per row. Detail columns are flattened; product
// lines are only counted here, the JSON writer keeps them whole.
func (cw *CSVWriter) Write(rows []*models.ListingRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		if err := cw.writer.Write(csvRecord(row)); err != nil {
			return fmt.Errorf("write csv record %s: %w", row.AuthorizationCode, err)
		}
		cw.rows++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate reports an error when no row was written below the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return checkWritten("csv", cw.file, cw.rows)
}

// JSONWriter writes one JSON object per line, details included.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	rows    int
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends rows in JSONL format, details included.
func (jw *JSONWriter) Write(rows []*models.ListingRow) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record %s: %w", row.AuthorizationCode, err)
		}
		jw.rows++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate reports an error when no row was written.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return checkWritten("json", jw.file, jw.rows)
}

// ErrNoRows is returned by Validate when a writer received no rows.
var ErrNoRows = errors.New("pipeline: no rows written")

func checkWritten(kind string, f *os.File, rows int) error {
	if rows == 0 {
		return fmt.Errorf("%s output %s: %w", kind, f.Name(), ErrNoRows)
	}
	info, err := os.Stat(f.Name())
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file %s is empty", kind, f.Name())
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
