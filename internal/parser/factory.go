// Package parser turns uploaded kingdom spreadsheets into aggregate.Upload values.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"kvkstats/internal/aggregate"
)

// Parser reads one spreadsheet file.
type Parser interface {
	Parse(data []byte) (*aggregate.Upload, error)
}

// ErrLegacyWorkbook rejects BIFF .xls files, which the workbook reader cannot open.
var ErrLegacyWorkbook = errors.New("legacy .xls workbooks are not supported, save the file as .xlsx")

// Factory picks a parser by file extension.
type Factory struct{}

// NewFactory creates a new parser factory.
func NewFactory() *Factory {
	return &Factory{}
}

// GetParser returns the parser for filename.
func (f *Factory) GetParser(filename string) (Parser, error) {
	ext := strings.ToLower(getFileExtension(filename))

	switch ext {
	case ".csv":
		return NewCSVParser(), nil
	case ".xlsx":
		return NewXLSXParser(), nil
	case ".xls":
		return nil, ErrLegacyWorkbook
	default:
		return nil, fmt.Errorf("unsupported file type %q: use .xlsx or .csv", ext)
	}
}

// Parse picks the parser for filename and runs it.
func (f *Factory) Parse(filename string, data []byte) (*aggregate.Upload, error) {
	p, err := f.GetParser(filename)
	if err != nil {
		return nil, err
	}
	return p.Parse(data)
}

func getFileExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx == -1 {
		return ""
	}
	return filename[idx:]
}
