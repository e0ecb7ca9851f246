package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
)

// Panic if the given error is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullInt(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(int64(v), flags.Changed(key))
}

func getNullDuration(flags *pflag.FlagSet, key string) NullDuration {
	v, err := flags.GetDuration(key)
	if err != nil {
		panic(err)
	}
	return NewNullDuration(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

// fprintf panics when where's an error writing to the supplied io.Writer
func fprintf(w io.Writer, format string, a ...any) (n int) {
	n, err := fmt.Fprintf(w, format, a...)
	if err != nil {
		panic(err.Error())
	}
	return n
}
