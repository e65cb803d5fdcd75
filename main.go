package main

import (
	"os"

	"github.com/woody-morgan/react-native-esbuild/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
