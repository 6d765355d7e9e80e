package export

import (
	"sync"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/aluiziolira/go-pagespeed/models"
)

// SheetName is the worksheet that holds exported results.
const SheetName = "Results"

// XLSXWriter builds a workbook in memory and saves it on Close.
type XLSXWriter struct {
	path  string
	file  *xlsx.File
	sheet *xlsx.Sheet
	mu    sync.Mutex
}

// NewXLSXWriter creates a workbook with a header row.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range Header {
		header.AddCell().SetString(name)
	}

	return &XLSXWriter{
		path:  filename,
		file:  f,
		sheet: sheet,
	}, nil
}

// Write appends reports as rows; metrics are numeric cells, absent ones read N/A.
func (xw *XLSXWriter) Write(reports []*models.MetricReport) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, report := range reports {
		if report == nil {
			continue
		}
		row := xw.sheet.AddRow()
		row.AddCell().SetString(report.URL)
		for _, v := range metricValues(report) {
			cell := row.AddCell()
			if v == nil {
				cell.SetString(NotAvailable)
				continue
			}
			cell.SetFloat(*v)
		}
	}
	return nil
}

// Close saves the workbook to disk.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	if err := xw.file.Save(xw.path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", xw.path)
	}
	return nil
}

// Validate ensures the workbook was written.
func (xw *XLSXWriter) Validate() error {
	return validateFile(xw.path, "xlsx")
}

// Path returns the output file path.
func (xw *XLSXWriter) Path() string {
	return xw.path
}
