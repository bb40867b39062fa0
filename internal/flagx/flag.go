// Package flagx holds helpers for layering command-line flags over values
// loaded from other sources.
package flagx

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Values are flag values captured by name. Scalar flags hold one element.
type Values map[string][]string

// Changed captures the flags set explicitly on the command line.
func Changed(fs *pflag.FlagSet) Values {
	values := Values{}
	fs.Visit(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			values[f.Name] = append([]string(nil), sv.GetSlice()...)
			return
		}
		values[f.Name] = []string{f.Value.String()}
	})
	return values
}

// Restore sets every captured flag again, so command-line values win over
// anything written to the bound variables since parsing.
func Restore(fs *pflag.FlagSet, values Values) error {
	for name, value := range values {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}

		var err error
		switch v := f.Value.(type) {
		case pflag.SliceValue:
			err = v.Replace(value)
		default:
			if len(value) != 1 {
				return fmt.Errorf("flag %q: expected one value, got %d", name, len(value))
			}
			err = f.Value.Set(value[0])
		}
		if err != nil {
			return fmt.Errorf("restore flag %q: %w", name, err)
		}
	}
	return nil
}
