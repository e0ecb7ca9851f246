package fcp

import (
	"math"
	"strconv"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Latency is a duration in milliseconds, as reported by the browser's
// performance timeline.
type Latency float64

// Unmeasurable returns the latency of a URL that couldn't be measured. It
// compares greater than any real latency, so sorting measurements puts
// the failed ones last.
func Unmeasurable() Latency {
	return Latency(math.Inf(1))
}

// Measured reports whether l is a real measurement.
func (l Latency) Measured() bool {
	f := float64(l)
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func (l Latency) String() string {
	if !l.Measured() {
		return "unmeasurable"
	}
	return strconv.FormatFloat(float64(l), 'f', -1, 64) + "ms"
}

// MarshalEasyJSON encodes measured latencies as JSON numbers and
// unmeasurable ones as null, since JSON has no infinity.
func (l Latency) MarshalEasyJSON(w *jwriter.Writer) {
	if !l.Measured() {
		w.RawString("null")
		return
	}
	w.Float64(float64(l))
}

// MarshalJSON implements json.Marshaler.
func (l Latency) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	l.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalEasyJSON decodes null as Unmeasurable.
func (l *Latency) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		*l = Unmeasurable()
		return
	}
	*l = Latency(in.Float64())
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Latency) UnmarshalJSON(data []byte) error {
	in := jlexer.Lexer{Data: data}
	l.UnmarshalEasyJSON(&in)
	return in.Error()
}
