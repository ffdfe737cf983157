package legitimacy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReadCompanyCSV reads normalized company names from the named column and,
// when aliasColumn is set, from its comma-separated aliases.
func ReadCompanyCSV(r io.Reader, nameColumn, aliasColumn string) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	nameIdx, aliasIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, nameColumn):
			nameIdx = i
		case aliasColumn != "" && strings.EqualFold(h, aliasColumn):
			aliasIdx = i
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("column %q not found", nameColumn)
	}

	var names []string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if nameIdx < len(rec) {
			if n := Normalize(rec[nameIdx]); n != "" {
				names = append(names, n)
			}
		}
		if aliasIdx >= 0 && aliasIdx < len(rec) {
			for _, alt := range strings.Split(rec[aliasIdx], ",") {
				if n := Normalize(alt); n != "" {
					names = append(names, n)
				}
			}
		}
	}
	return names, nil
}

// LoadSources reads and de-duplicates every source. Missing files are
// skipped and reported in the returned slice.
func LoadSources(sources []domain.CompanySource) (names []string, missing []string, err error) {
	seen := make(map[string]struct{})
	for _, src := range sources {
		f, err := os.Open(src.Path)
		if errors.Is(err, os.ErrNotExist) {
			missing = append(missing, src.Path)
			continue
		}
		if err != nil {
			return nil, missing, err
		}
		list, err := ReadCompanyCSV(f, src.NameColumn, src.AliasColumn)
		f.Close()
		if err != nil {
			return nil, missing, fmt.Errorf("%s: %w", src.Path, err)
		}
		for _, n := range list {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names, missing, nil
}
