package record

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/fcp-performance/fcp-performance/cdp"
	"github.com/fcp-performance/fcp-performance/fcp"
	"github.com/fcp-performance/fcp-performance/storage"
	"github.com/fcp-performance/fcp-performance/sysinfo"
)

var (
	testStart   = time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	testBrowser = cdp.BrowserInfo{Product: "HeadlessChrome/120.0.6099.71", Version: "120.0.6099.71"}
	testSnap    = sysinfo.OSInfo{
		Platform: "linux",
		Distro:   "Ubuntu",
		Release:  "22.04",
		Codename: "jammy",
		Kernel:   "6.5.0-1018-azure",
		Arch:     "x64",
		Hostname: "build-7",
		FQDN:     "build-7.ci.example.com",
		Serial:   "4c4c4544004b4d1080",
		UEFI:     true,
	}
	testArgs = []string{"--disable-gpu", "--no-sandbox", "--headless"}
)

func testMeasurements() []fcp.Measurement {
	return []fcp.Measurement{
		{URL: "https://a.com", FCP: fcp.Unmeasurable(), Datetime: "2024-01-02T03:04:05.700Z"},
		{URL: "https://b.com", FCP: 842.3, Datetime: "2024-01-02T03:04:15.712Z"},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	ms := testMeasurements()
	args := append([]string{}, testArgs...)
	rec := Build(testBrowser, ms, testStart, testSnap, args)

	assert.Equal(t, "HeadlessChrome/120.0.6099.71", rec.ProductVersion)
	assert.Equal(t, "2024-01-02T03:04:05.678Z", rec.Datetime)
	assert.Equal(t, testMeasurements(), rec.Measurements)
	assert.Equal(t, testArgs, rec.BrowserArgs)
	assert.Equal(t, OSInfo{
		Platform: "linux",
		Distro:   "Ubuntu",
		Release:  "22.04",
		Codename: "jammy",
		Kernel:   "6.5.0-1018-azure",
		Arch:     "x64",
		UEFI:     true,
	}, rec.OSInfo)
	assert.Equal(t, 1, rec.Measured())

	// The record doesn't share memory with its inputs.
	ms[0].URL = "https://changed.com"
	args[0] = "--changed"
	assert.Equal(t, "https://a.com", rec.Measurements[0].URL)
	assert.Equal(t, "--disable-gpu", rec.BrowserArgs[0])
}

func TestRecordJSON(t *testing.T) {
	t.Parallel()

	rec := Build(testBrowser, testMeasurements(), testStart, testSnap, testArgs)
	out, err := json.Marshal(rec)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"productVersion": "HeadlessChrome/120.0.6099.71",
		"measurements": [
			{"url": "https://a.com", "fcp": null, "datetime": "2024-01-02T03:04:05.700Z"},
			{"url": "https://b.com", "fcp": 842.3, "datetime": "2024-01-02T03:04:15.712Z"}
		],
		"datetime": "2024-01-02T03:04:05.678Z",
		"osInfo": {
			"platform": "linux", "distro": "Ubuntu", "release": "22.04", "codename": "jammy",
			"kernel": "6.5.0-1018-azure", "arch": "x64", "codepage": "", "logofile": "",
			"build": "", "servicepack": "", "uefi": true
		},
		"browserArgs": ["--disable-gpu", "--no-sandbox", "--headless"]
	}`, string(out))

	for _, field := range []string{"serial", "hostname", "fqdn"} {
		assert.False(t, gjson.GetBytes(out, "osInfo."+field).Exists(), field)
	}
	assert.NotContains(t, string(out), testSnap.Serial)
	assert.NotContains(t, string(out), testSnap.Hostname)

	var got RunRecord
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, rec, got)
	assert.Equal(t, fcp.Unmeasurable(), got.Measurements[0].FCP)
}

func TestRecordJSONDropsIdentifyingFields(t *testing.T) {
	t.Parallel()

	var o OSInfo
	require.NoError(t, json.Unmarshal([]byte(`{"platform":"linux","hostname":"h","fqdn":"h.example.com","serial":"s"}`), &o))
	assert.Equal(t, OSInfo{Platform: "linux"}, o)
}

func TestPersist(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	p := storage.NewLocalFilePersister(fs)
	rec := Build(testBrowser, testMeasurements(), testStart, testSnap, testArgs)

	require.NoError(t, Persist(context.Background(), p, rec, "/out/fcp-performance.json"))
	first, err := afero.ReadFile(fs, "/out/fcp-performance.json")
	require.NoError(t, err)

	require.NoError(t, Persist(context.Background(), p, rec, "/out/fcp-performance.json"))
	second, err := afero.ReadFile(fs, "/out/fcp-performance.json")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, json.Valid(first))
	assert.Equal(t, 842.3, gjson.GetBytes(first, "measurements.1.fcp").Float())
}

func TestPersistAllFailed(t *testing.T) {
	t.Parallel()

	ms := []fcp.Measurement{
		{URL: "https://a.com", FCP: fcp.Unmeasurable(), Datetime: "2024-01-02T03:04:05.700Z"},
		{URL: "https://b.com", FCP: fcp.Unmeasurable(), Datetime: "2024-01-02T03:04:15.712Z"},
	}
	fs := afero.NewMemMapFs()
	rec := Build(testBrowser, ms, testStart, testSnap, nil)
	require.NoError(t, Persist(context.Background(), storage.NewLocalFilePersister(fs), rec, "out.json"))

	data, err := afero.ReadFile(fs, "out.json")
	require.NoError(t, err)
	require.True(t, json.Valid(data))

	fcps := gjson.GetBytes(data, "measurements.#.fcp").Array()
	require.Len(t, fcps, 2)
	for _, v := range fcps {
		assert.Equal(t, gjson.Null, v.Type)
	}
	assert.Equal(t, "[]", gjson.GetBytes(data, "browserArgs").Raw)
}

func TestPersistGzip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	rec := Build(testBrowser, testMeasurements(), testStart, testSnap, testArgs)
	require.NoError(t, Persist(context.Background(), storage.NewLocalFilePersister(fs), rec, "/out/run.json.gz"))

	data, err := afero.ReadFile(fs, "/out/run.json.gz")
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	want, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, want, plain)
}

func TestPersistWriteError(t *testing.T) {
	t.Parallel()

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	rec := Build(testBrowser, testMeasurements(), testStart, testSnap, testArgs)
	err := Persist(context.Background(), storage.NewLocalFilePersister(fs), rec, "/out/run.json")

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "/out/run.json", werr.Path)
}
