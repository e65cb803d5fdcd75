package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins/builtin"
)

// maxAssetCopies bounds concurrent asset copies.
const maxAssetCopies = 8

var androidDrawables = map[float64]string{
	0.75: "ldpi",
	1:    "mdpi",
	1.5:  "hdpi",
	2:    "xhdpi",
	3:    "xxhdpi",
	4:    "xxxhdpi",
}

var drawableTypes = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "bmp": true, "xml": true,
}

var invalidResourceChars = regexp.MustCompile(`[^a-z0-9_]`)

type assetCopy struct {
	from string
	to   string
}

// copyAssets copies every scale variant of assets into dest using the
// platform's resource layout.
func copyAssets(ctx context.Context, assets []plugins.Asset, platform plugins.Platform, dest string) error {
	var copies []assetCopy
	for _, asset := range assets {
		names := make([]string, 0, len(asset.Files))
		for name := range asset.Files {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			to, err := assetDestination(asset, platform, name)
			if err != nil {
				return err
			}
			copies = append(copies, assetCopy{from: asset.Files[name], to: filepath.Join(dest, to)})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxAssetCopies)
	for _, c := range copies {
		c := c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(c.from)
			if err != nil {
				return errors.WrapIO(err, errors.ErrCodeFileNotFound, "failed to read asset "+c.from)
			}
			return writeOutputFile(c.to, data)
		})
	}
	return g.Wait()
}

// assetDestination returns the path of one asset file relative to the
// assets destination. Android assets go to density specific drawable
// folders under a flattened resource name; other platforms keep the
// layout of the dev server's asset URLs.
func assetDestination(asset plugins.Asset, platform plugins.Platform, fileName string) (string, error) {
	if platform != plugins.PlatformAndroid {
		dir := strings.TrimPrefix(asset.HTTPServerLocation, builtin.DefaultPublicPath)
		return filepath.FromSlash(path.Join(strings.TrimPrefix(dir, "/"), fileName)), nil
	}

	folder := "raw"
	if drawableTypes[asset.Type] {
		scale := builtin.ScaleOf(fileName)
		density, ok := androidDrawables[scale]
		if !ok {
			return "", fmt.Errorf("asset %s has unsupported android scale %gx", fileName, scale)
		}
		folder = "drawable-" + density
	}
	return filepath.Join(folder, androidResourceName(asset)+"."+asset.Type), nil
}

// androidResourceName flattens the asset location into a valid android
// resource identifier.
func androidResourceName(asset plugins.Asset) string {
	location := strings.TrimPrefix(asset.HTTPServerLocation, "/")
	name := strings.ToLower(path.Join(location, asset.Name))
	name = strings.ReplaceAll(name, "/", "_")
	name = invalidResourceChars.ReplaceAllString(name, "")
	return strings.TrimPrefix(name, "assets_")
}
