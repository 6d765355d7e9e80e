// Package export writes batch results to CSV, JSON lines, and spreadsheet files.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-pagespeed/models"
)

// OutputWriter defines the interface for report output.
type OutputWriter interface {
	Write(reports []*models.MetricReport) error
	Close() error
	Validate() error
}

// CSVWriter writes reports to a UTF-8 CSV file.
type CSVWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends reports to the CSV output.
func (cw *CSVWriter) Write(reports []*models.MetricReport) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, report := range reports {
		if report == nil {
			continue
		}
		if err := cw.writer.Write(Row(report)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
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

// Validate ensures the file exists and has content.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.path, "csv")
}

// Path returns the output file path.
func (cw *CSVWriter) Path() string {
	return cw.path
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
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
		path:    filename,
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends reports in JSONL format. Absent metrics are encoded as null.
func (jw *JSONWriter) Write(reports []*models.MetricReport) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, report := range reports {
		if report == nil {
			continue
		}
		if err := jw.encoder.Encode(report); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
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

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.path, "json")
}

// Path returns the output file path.
func (jw *JSONWriter) Path() string {
	return jw.path
}

func validateFile(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
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
