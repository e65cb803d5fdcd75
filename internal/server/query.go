package server

import (
	"net/url"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// BundleRequestOptions are the options carried by a bundle request.
type BundleRequestOptions struct {
	Platform  plugins.Platform
	Dev       bool
	Minify    bool
	RunModule bool
}

// ParseBundleQuery validates the query of a bundle or source map request.
// platform is required; dev defaults to true, minify and runModule to
// false. Booleans accept only the literals "true" and "false".
func ParseBundleQuery(query url.Values) (BundleRequestOptions, error) {
	var vec errors.ValidationErrorCollection
	opts := BundleRequestOptions{Dev: true}

	if values, ok := query["platform"]; !ok || len(values) == 0 || values[0] == "" {
		vec.AddField("platform", "", "platform is required")
	} else if platform, err := plugins.ParsePlatform(values[0]); err != nil {
		vec.AddField("platform", values[0], "must be one of android, ios, web")
	} else {
		opts.Platform = platform
	}

	parseBool(query, "dev", &opts.Dev, &vec)
	parseBool(query, "minify", &opts.Minify, &vec)
	parseBool(query, "runModule", &opts.RunModule, &vec)

	if vec.HasErrors() {
		return BundleRequestOptions{}, vec.ToBundlerError()
	}
	return opts, nil
}

func parseBool(query url.Values, name string, dst *bool, vec *errors.ValidationErrorCollection) {
	values, ok := query[name]
	if !ok || len(values) == 0 {
		return
	}
	switch values[0] {
	case "true":
		*dst = true
	case "false":
		*dst = false
	default:
		vec.AddField(name, values[0], `must be "true" or "false"`)
	}
}
