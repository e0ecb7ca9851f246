// Package record assembles and persists the artifact of a measurement run.
package record

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"

	"github.com/fcp-performance/fcp-performance/cdp"
	"github.com/fcp-performance/fcp-performance/fcp"
	"github.com/fcp-performance/fcp-performance/storage"
	"github.com/fcp-performance/fcp-performance/sysinfo"
)

// GzipSuffix makes Persist compress the record.
const GzipSuffix = ".gz"

//nolint:gochecknoglobals
var bufPool = bpool.NewBufferPool(4)

// RunRecord is the artifact of one run. It's built once all measurements
// are done and never changes afterwards.
type RunRecord struct {
	// ProductVersion is the browser's product, e.g.
	// "HeadlessChrome/120.0.6099.71".
	ProductVersion string
	// Measurements are in input order.
	Measurements []fcp.Measurement
	// Datetime is when the run started.
	Datetime    string
	OSInfo      OSInfo
	BrowserArgs []string
}

// OSInfo is the persisted part of a system snapshot. It has no room for
// what identifies the machine.
type OSInfo struct {
	Platform    string
	Distro      string
	Release     string
	Codename    string
	Kernel      string
	Arch        string
	Codepage    string
	Logofile    string
	Build       string
	Servicepack string
	UEFI        bool
}

// Redact drops the identifying fields of snap.
func Redact(snap sysinfo.OSInfo) OSInfo {
	return OSInfo{
		Platform:    snap.Platform,
		Distro:      snap.Distro,
		Release:     snap.Release,
		Codename:    snap.Codename,
		Kernel:      snap.Kernel,
		Arch:        snap.Arch,
		Codepage:    snap.Codepage,
		Logofile:    snap.Logofile,
		Build:       snap.Build,
		Servicepack: snap.Servicepack,
		UEFI:        snap.UEFI,
	}
}

// Build assembles the record of a run started at start, in which browser
// was launched with launchArgs.
func Build(
	browser cdp.BrowserInfo, ms []fcp.Measurement, start time.Time,
	snap sysinfo.OSInfo, launchArgs []string,
) RunRecord {
	return RunRecord{
		ProductVersion: browser.Product,
		Measurements:   append([]fcp.Measurement{}, ms...),
		Datetime:       fcp.FormatTimestamp(start),
		OSInfo:         Redact(snap),
		BrowserArgs:    append([]string{}, launchArgs...),
	}
}

// Measured returns how many measurements have a real latency.
func (r RunRecord) Measured() int {
	var n int
	for _, m := range r.Measurements {
		if m.FCP.Measured() {
			n++
		}
	}
	return n
}

// WriteError is returned when a record couldn't be persisted. The run's
// measurements are lost.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing run record to %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Persist writes rec to path in one go, replacing any existing file. Paths
// ending in GzipSuffix are gzip compressed.
func Persist(ctx context.Context, p storage.FilePersister, rec RunRecord, path string) error {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := encode(buf, rec, strings.HasSuffix(path, GzipSuffix)); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := p.Persist(ctx, path, buf); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	return nil
}

func encode(buf *bytes.Buffer, rec RunRecord, compress bool) error {
	w := jwriter.Writer{}
	rec.MarshalEasyJSON(&w)
	if w.Error != nil {
		return fmt.Errorf("encoding run record: %w", w.Error)
	}
	if !compress {
		_, err := w.DumpTo(buf)
		return err //nolint:wrapcheck
	}

	zw := gzip.NewWriter(buf)
	if _, err := w.DumpTo(zw); err != nil {
		return fmt.Errorf("compressing run record: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing run record: %w", err)
	}

	return nil
}
