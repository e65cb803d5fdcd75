package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// svgComponents maps lower-cased svg element names to react-native-svg
// components. The html tokenizer lower-cases tag names.
var svgComponents = map[string]string{
	"svg":            "Svg",
	"circle":         "Circle",
	"clippath":       "ClipPath",
	"defs":           "Defs",
	"ellipse":        "Ellipse",
	"g":              "G",
	"image":          "Image",
	"line":           "Line",
	"lineargradient": "LinearGradient",
	"marker":         "Marker",
	"mask":           "Mask",
	"path":           "Path",
	"pattern":        "Pattern",
	"polygon":        "Polygon",
	"polyline":       "Polyline",
	"radialgradient": "RadialGradient",
	"rect":           "Rect",
	"stop":           "Stop",
	"symbol":         "Symbol",
	"text":           "Text",
	"textpath":       "TextPath",
	"tspan":          "TSpan",
	"use":            "Use",
}

// camelAttributes restores the case of svg attributes the tokenizer
// lower-cased.
var camelAttributes = map[string]string{
	"viewbox":             "viewBox",
	"preserveaspectratio": "preserveAspectRatio",
	"gradientunits":       "gradientUnits",
	"gradienttransform":   "gradientTransform",
	"patternunits":        "patternUnits",
	"patterncontentunits": "patternContentUnits",
	"patterntransform":    "patternTransform",
	"maskunits":           "maskUnits",
	"maskcontentunits":    "maskContentUnits",
	"clippathunits":       "clipPathUnits",
	"markerwidth":         "markerWidth",
	"markerheight":        "markerHeight",
	"markerunits":         "markerUnits",
	"refx":                "refX",
	"refy":                "refY",
	"textlength":          "textLength",
	"lengthadjust":        "lengthAdjust",
	"spreadmethod":        "spreadMethod",
	"startoffset":         "startOffset",
	"xlink:href":          "href",
}

// droppedAttributes are meaningless to react-native-svg.
var droppedAttributes = map[string]bool{
	"xmlns":       true,
	"xmlns:xlink": true,
	"xml:space":   true,
	"version":     true,
	"class":       true,
	"style":       true,
}

// SVGTransform converts svg imports into react-native-svg components.
func SVGTransform() plugins.Factory {
	return func(pctx *plugins.Context) (plugins.Plugin, error) {
		return &svgTransform{pctx: pctx}, nil
	}
}

type svgTransform struct {
	pctx *plugins.Context
}

func (s *svgTransform) Name() string       { return string(plugins.KindSVGTransform) }
func (s *svgTransform) Kind() plugins.Kind { return plugins.KindSVGTransform }

func (s *svgTransform) Test(path string, _ []byte) bool {
	return strings.EqualFold(filepath.Ext(path), ".svg")
}

func (s *svgTransform) Apply(_ context.Context, file *plugins.File) error {
	module, err := SVGComponent(ComponentName(file.Path), file.Code)
	if err != nil {
		return err
	}
	file.Code = module
	file.Loader = plugins.LoaderJSX
	return nil
}

// ComponentName derives a component identifier from a file name, e.g.
// arrow-left@2x.svg becomes ArrowLeft.
func ComponentName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = scaleSuffix.ReplaceAllString(base, "")

	title := cases.Title(language.Und)
	words := strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var b strings.Builder
	for _, w := range words {
		b.WriteString(title.String(w))
	}
	name := b.String()
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "Svg" + name
	}
	return name
}

// SVGComponent renders svg markup as a react-native-svg component module.
func SVGComponent(name string, markup []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(markup))

	var (
		body     strings.Builder
		used     = map[string]bool{}
		stack    []string
		skip     int
		foundSvg bool
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				if !foundSvg {
					return nil, fmt.Errorf("no <svg> element found")
				}
				if len(stack) > 0 {
					return nil, fmt.Errorf("unclosed <%s> element", stack[len(stack)-1])
				}
				return renderSVGModule(name, used, body.String()), nil
			}
			return nil, z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			token := z.Token()
			component, known := svgComponents[token.Data]
			if skip > 0 || !known {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if component == "Svg" {
				foundSvg = true
			} else if !foundSvg {
				return nil, fmt.Errorf("<%s> outside of <svg>", token.Data)
			}
			used[component] = true

			body.WriteString("<" + component)
			for _, attr := range token.Attr {
				key, ok := jsxAttribute(attr)
				if !ok {
					continue
				}
				value, _ := json.Marshal(attr.Val)
				fmt.Fprintf(&body, " %s={%s}", key, value)
			}
			if component == "Svg" {
				body.WriteString(" {...props}")
			}

			if tt == html.SelfClosingTagToken {
				body.WriteString(" />")
				continue
			}
			body.WriteString(">")
			stack = append(stack, token.Data)

		case html.EndTagToken:
			token := z.Token()
			if skip > 0 {
				if _, known := svgComponents[token.Data]; !known || len(stack) == 0 || stack[len(stack)-1] != token.Data {
					skip--
					continue
				}
			}
			if len(stack) == 0 || stack[len(stack)-1] != token.Data {
				return nil, fmt.Errorf("unexpected </%s>", token.Data)
			}
			stack = stack[:len(stack)-1]
			body.WriteString("</" + svgComponents[token.Data] + ">")

		case html.TextToken:
			if skip > 0 || len(stack) == 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			if parent := stack[len(stack)-1]; parent == "text" || parent == "tspan" || parent == "textpath" {
				value, _ := json.Marshal(text)
				fmt.Fprintf(&body, "{%s}", value)
			}
		}
	}
}

// jsxAttribute converts an svg attribute name into a react-native-svg prop.
func jsxAttribute(attr html.Attribute) (string, bool) {
	key := attr.Key
	if attr.Namespace != "" {
		key = attr.Namespace + ":" + key
	}
	if droppedAttributes[key] || strings.HasPrefix(key, "on") || strings.HasPrefix(key, "data-") {
		return "", false
	}
	if camel, ok := camelAttributes[key]; ok {
		return camel, true
	}
	if strings.ContainsAny(key, ":") {
		return "", false
	}

	parts := strings.Split(key, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, ""), true
}

func renderSVGModule(name string, used map[string]bool, body string) []byte {
	named := make([]string, 0, len(used))
	for component := range used {
		if component != "Svg" {
			named = append(named, component)
		}
	}
	sort.Strings(named)

	var b strings.Builder
	b.WriteString("import * as React from 'react';\n")
	if len(named) > 0 {
		fmt.Fprintf(&b, "import Svg, { %s } from 'react-native-svg';\n", strings.Join(named, ", "))
	} else {
		b.WriteString("import Svg from 'react-native-svg';\n")
	}
	fmt.Fprintf(&b, "const %s = (props) => (%s);\n", name, body)
	fmt.Fprintf(&b, "export default %s;\n", name)
	return []byte(b.String())
}
