// Package input reads the URLs to measure.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/net/idna"

	"github.com/fcp-performance/fcp-performance/log"
)

// DomainColumn is the CSV column holding the domains to measure.
const DomainColumn = "domain"

// ErrNoDomainColumn is returned when the CSV header has no DomainColumn.
var ErrNoDomainColumn = errors.New(`no "` + DomainColumn + `" column`)

// ReadURLs reads the CSV file at path and returns an https URL for every
// domain in its DomainColumn, in file order. Rows with an empty domain are
// skipped. A domain that isn't a valid host name is logged and kept as is,
// so that it fails on its own when measured.
func ReadURLs(fs afero.Fs, path string, logger *log.Logger) (_ []string, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %q: %w", path, cerr)
		}
	}()

	urls, err := ParseURLs(f, logger)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	return urls, nil
}

// ParseURLs is ReadURLs for an already open CSV document.
func ParseURLs(r io.Reader, logger *log.Logger) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoDomainColumn
	}
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	col := -1
	for i, name := range header {
		// Spreadsheet exports may start with a byte order mark.
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), DomainColumn) {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, ErrNoDomainColumn
	}

	var urls []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		if col >= len(rec) {
			continue
		}
		domain := strings.TrimSpace(rec[col])
		if domain == "" {
			continue
		}
		u, err := DomainURL(domain)
		if err != nil {
			line, _ := cr.FieldPos(col)
			logger.Warnf("input", "line %d: %v, keeping it as is", line, err)
			u = "https://" + domain
		}
		urls = append(urls, u)
	}

	return urls, nil
}

// DomainURL returns the https URL of domain, converting internationalized
// domain names to their ASCII form.
func DomainURL(domain string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}

	return "https://" + ascii, nil
}
