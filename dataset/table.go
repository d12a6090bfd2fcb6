// Package dataset - Label tables, their cache, datasets and batching loaders.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LabelTable is the parsed dataset CSV.
//
// The first column holds a media path; every other column is a 0/1 indicator for one class,
// named by the header row.
type LabelTable struct {
	// Columns is the header row, path column included.
	Columns []string
	// Paths is the media path of every row.
	Paths []string
	// Labels is the multi-hot vector of every row, in column order.
	Labels [][]float32
}

// TagMapping maps a model output channel to its tag name.
type TagMapping map[int]string

// ReadLabelTable reads a label table from path.
//
// Arguments:
//   - path: The CSV file.
//
// Returns:
//   - *LabelTable: The parsed table.
//   - error: A wrapped fs.ErrNotExist if the file is missing, or a parse error naming the row.
func ReadLabelTable(path string) (*LabelTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading dataset %s", path)
	}
	defer f.Close()

	t, err := ParseLabelTable(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing dataset %s", path)
	}
	return t, nil
}

// ParseLabelTable parses a label table from r.
func ParseLabelTable(r io.Reader) (*LabelTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty label table")
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("label table needs a path column and at least one class column, got %d columns", len(header))
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &LabelTable{Columns: header}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading row %d", row)
		}

		labels := make([]float32, len(header)-1)
		for c, cell := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 32)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %q is not a label value", row, header[c+1], cell)
			}
			labels[c] = float32(v)
		}
		t.Paths = append(t.Paths, record[0])
		t.Labels = append(t.Labels, labels)
	}
	return t, nil
}

// Len is the number of rows.
func (t *LabelTable) Len() int {
	return len(t.Paths)
}

// NumClasses is the number of class columns.
func (t *LabelTable) NumClasses() int {
	return len(t.Columns) - 1
}

// TagMapping enumerates the class columns in file order.
func (t *LabelTable) TagMapping() TagMapping {
	m := make(TagMapping, t.NumClasses())
	for i, name := range t.Columns[1:] {
		m[i] = name
	}
	return m
}
