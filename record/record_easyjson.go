package record

import (
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/fcp-performance/fcp-performance/fcp"
)

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (r RunRecord) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('{')
	out.RawString(`"productVersion":`)
	out.String(r.ProductVersion)
	out.RawString(`,"measurements":`)
	if r.Measurements == nil {
		out.RawString("[]")
	} else {
		out.RawByte('[')
		for i, m := range r.Measurements {
			if i > 0 {
				out.RawByte(',')
			}
			m.MarshalEasyJSON(out)
		}
		out.RawByte(']')
	}
	out.RawString(`,"datetime":`)
	out.String(r.Datetime)
	out.RawString(`,"osInfo":`)
	r.OSInfo.MarshalEasyJSON(out)
	out.RawString(`,"browserArgs":`)
	if r.BrowserArgs == nil {
		out.RawString("[]")
	} else {
		out.RawByte('[')
		for i, a := range r.BrowserArgs {
			if i > 0 {
				out.RawByte(',')
			}
			out.String(a)
		}
		out.RawByte(']')
	}
	out.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface.
func (r RunRecord) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	r.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (r *RunRecord) UnmarshalEasyJSON(in *jlexer.Lexer) {
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
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "productVersion":
			r.ProductVersion = in.String()
		case "measurements":
			in.Delim('[')
			r.Measurements = make([]fcp.Measurement, 0, 8)
			for !in.IsDelim(']') {
				var m fcp.Measurement
				m.UnmarshalEasyJSON(in)
				r.Measurements = append(r.Measurements, m)
				in.WantComma()
			}
			in.Delim(']')
		case "datetime":
			r.Datetime = in.String()
		case "osInfo":
			r.OSInfo.UnmarshalEasyJSON(in)
		case "browserArgs":
			in.Delim('[')
			r.BrowserArgs = make([]string, 0, 4)
			for !in.IsDelim(']') {
				r.BrowserArgs = append(r.BrowserArgs, in.String())
				in.WantComma()
			}
			in.Delim(']')
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
func (r *RunRecord) UnmarshalJSON(data []byte) error {
	in := jlexer.Lexer{Data: data}
	r.UnmarshalEasyJSON(&in)
	return in.Error()
}

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (o OSInfo) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"platform":`)
	out.String(o.Platform)
	out.RawString(`,"distro":`)
	out.String(o.Distro)
	out.RawString(`,"release":`)
	out.String(o.Release)
	out.RawString(`,"codename":`)
	out.String(o.Codename)
	out.RawString(`,"kernel":`)
	out.String(o.Kernel)
	out.RawString(`,"arch":`)
	out.String(o.Arch)
	out.RawString(`,"codepage":`)
	out.String(o.Codepage)
	out.RawString(`,"logofile":`)
	out.String(o.Logofile)
	out.RawString(`,"build":`)
	out.String(o.Build)
	out.RawString(`,"servicepack":`)
	out.String(o.Servicepack)
	out.RawString(`,"uefi":`)
	out.Bool(o.UEFI)
	out.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface.
func (o OSInfo) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	o.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (o *OSInfo) UnmarshalEasyJSON(in *jlexer.Lexer) {
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
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "platform":
			o.Platform = in.String()
		case "distro":
			o.Distro = in.String()
		case "release":
			o.Release = in.String()
		case "codename":
			o.Codename = in.String()
		case "kernel":
			o.Kernel = in.String()
		case "arch":
			o.Arch = in.String()
		case "codepage":
			o.Codepage = in.String()
		case "logofile":
			o.Logofile = in.String()
		case "build":
			o.Build = in.String()
		case "servicepack":
			o.Servicepack = in.String()
		case "uefi":
			o.UEFI = in.Bool()
		default:
			// Hostname, fqdn and serial of artifacts written before
			// redaction are dropped here too.
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
func (o *OSInfo) UnmarshalJSON(data []byte) error {
	in := jlexer.Lexer{Data: data}
	o.UnmarshalEasyJSON(&in)
	return in.Error()
}
