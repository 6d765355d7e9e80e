package export

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-pagespeed/models"
)

// MultiWriter fans reports out to several writers.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter wraps writers; nil entries are skipped.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write writes reports to every writer, stopping at the first failure.
func (mw *MultiWriter) Write(reports []*models.MetricReport) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(reports); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes all writers and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate validates every output.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Paths returns the output file of every writer that exposes one.
func (mw *MultiWriter) Paths() []string {
	var paths []string
	for _, w := range mw.writers {
		if p, ok := w.(interface{ Path() string }); ok {
			paths = append(paths, p.Path())
		}
	}
	return paths
}

// NewWriters opens one writer per format, naming files base + extension.
func NewWriters(formats []string, base string) (*MultiWriter, error) {
	var writers []OutputWriter
	closeAll := func() {
		for _, w := range writers {
			_ = w.Close()
		}
	}

	for _, format := range formats {
		var (
			w   OutputWriter
			err error
		)
		switch format {
		case "csv":
			w, err = NewCSVWriter(base + ".csv")
		case "json":
			w, err = NewJSONWriter(base + ".jsonl")
		case "xlsx":
			w, err = NewXLSXWriter(base + ".xlsx")
		default:
			err = fmt.Errorf("unsupported format: %s", format)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		writers = append(writers, w)
	}

	return NewMultiWriter(writers...), nil
}
