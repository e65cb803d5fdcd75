package builtin

import (
	"github.com/evanw/esbuild/pkg/api"

	"github.com/woody-morgan/react-native-esbuild/internal/engine"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// loaderFor returns the esbuild loader for the file's current contents.
func loaderFor(file *plugins.File) api.Loader {
	loader := file.Loader
	if loader == "" {
		loader = plugins.LoaderForPath(file.Path)
	}
	return engine.APILoader(loader)
}
