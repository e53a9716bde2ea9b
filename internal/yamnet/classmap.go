package yamnet

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/watchme/sed-go/internal/errors"
)

// parseClassMap reads the AudioSet class map CSV (index, mid, display_name)
// and returns the display names in index order. The header row is skipped.
func parseClassMap(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.New(err).
			Component("yamnet").
			Category(errors.CategoryLabelLoad).
			Build()
	}

	if len(records) < 2 {
		return nil, errors.Newf("class map has no label rows").
			Component("yamnet").
			Category(errors.CategoryLabelLoad).
			Context("rows", len(records)).
			Build()
	}

	labels := make([]string, 0, len(records)-1)
	for _, row := range records[1:] { // skip header
		if len(row) < 3 {
			return nil, errors.Newf("malformed class map row: %q", strings.Join(row, ",")).
				Component("yamnet").
				Category(errors.CategoryLabelLoad).
				Build()
		}
		labels = append(labels, row[2])
	}

	return labels, nil
}
