package parser

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/logging"
)

// XLSXParser parses Excel workbooks. Only the first sheet is read.
type XLSXParser struct{}

// NewXLSXParser creates a new XLSX parser.
func NewXLSXParser() *XLSXParser {
	return &XLSXParser{}
}

// Parse reads the first sheet of an Excel workbook.
func (p *XLSXParser) Parse(data []byte) (*aggregate.Upload, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logger().Warnf("close workbook: %v", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("XLSX file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}
	return buildUpload(rows)
}
