package fcp

import (
	"time"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// TimestampFormat is the ISO-8601 layout of measurement timestamps, with
// millisecond precision, e.g. 2024-01-02T03:04:05.678Z.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp formats t in UTC using TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Measurement is the outcome of measuring one URL.
type Measurement struct {
	URL string `json:"url"`
	// FCP is Unmeasurable if navigating to URL or observing its first
	// contentful paint failed.
	FCP Latency `json:"fcp"`
	// Datetime is when the measurement started, formatted with
	// TimestampFormat.
	Datetime string `json:"datetime"`
}

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (m Measurement) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('{')
	out.RawString(`"url":`)
	out.String(m.URL)
	out.RawString(`,"fcp":`)
	m.FCP.MarshalEasyJSON(out)
	out.RawString(`,"datetime":`)
	out.String(m.Datetime)
	out.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface.
func (m Measurement) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	m.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (m *Measurement) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() && key != "fcp" {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "url":
			m.URL = in.String()
		case "fcp":
			m.FCP.UnmarshalEasyJSON(in)
		case "datetime":
			m.Datetime = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// UnmarshalJSON supports json.Unmarshaler interface.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	m.UnmarshalEasyJSON(&r)
	return r.Error()
}
