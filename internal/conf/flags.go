// conf/flags.go: command line overrides
package conf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagKeyAnnotation names the flag annotation holding the settings key a flag overrides.
const FlagKeyAnnotation = "trackwatch_settings_key"

// AnnotateFlag marks flag name in fs as an override of the settings keys.
func AnnotateFlag(fs *pflag.FlagSet, name string, keys ...string) error {
	if fs.Lookup(name) == nil {
		return fmt.Errorf("unknown flag %q", name)
	}
	return fs.SetAnnotation(name, FlagKeyAnnotation, keys)
}

// BindFlags binds the annotated flags of the flag sets to their settings keys.
// Only the executing command's flags should be bound, since several commands
// may override the same key. Flags override the configuration file and the
// environment only when set on the command line.
func BindFlags(sets ...*pflag.FlagSet) error {
	var err error
	for _, fs := range sets {
		fs.VisitAll(func(f *pflag.Flag) {
			if err != nil {
				return
			}
			for _, key := range f.Annotations[FlagKeyAnnotation] {
				if bindErr := viper.BindPFlag(key, f); bindErr != nil {
					err = fmt.Errorf("error binding flag %s: %w", f.Name, bindErr)
					return
				}
			}
		})
	}
	return err
}
