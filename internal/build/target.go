package build

import (
	"fmt"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// Target identifies one build. Every distinct target owns its own engine
// context and task.
type Target struct {
	EntryFile string
	Platform  plugins.Platform
	Mode      plugins.Mode
	Dev       bool
	Minify    bool
}

// Key returns the identity string of the target.
func (t Target) Key() string {
	return fmt.Sprintf("%s:%s:%s:dev=%t:minify=%t", t.EntryFile, t.Platform, t.Mode, t.Dev, t.Minify)
}

func (t Target) String() string {
	return t.Key()
}

// Validate checks the target fields.
func (t Target) Validate() error {
	var vec errors.ValidationErrorCollection

	if t.EntryFile == "" {
		vec.AddField("entryFile", t.EntryFile, "entry file is required")
	}
	if _, err := plugins.ParsePlatform(string(t.Platform)); err != nil {
		vec.AddField("platform", t.Platform, "must be one of android, ios, web")
	}
	if t.Mode != plugins.ModeBundle && t.Mode != plugins.ModeWatch {
		vec.AddField("mode", t.Mode, "must be bundle or watch")
	}

	if vec.HasErrors() {
		return vec.ToBundlerError()
	}
	return nil
}
