package starengine

import (
	"embed"
	"io/fs"
)

// DefaultBundle is the name of the embedded CSSLint-style rule bundle.
const DefaultBundle = "csslint"

//go:embed bundle/*.star
var bundles embed.FS

// Bundles serves the embedded rule bundles as <name>.star.
func Bundles() fs.FS {
	sub, err := fs.Sub(bundles, "bundle")
	if err != nil {
		panic(err) // the embedded directory always exists
	}
	return sub
}

// DefaultEnabled lists the bundle rules a new session enables.
var DefaultEnabled = []string{
	"important", "adjoining-classes", "known-properties", "box-sizing",
	"overqualified-elements", "display-property-grouping", "errors",
	"duplicate-properties", "empty-rules", "font-sizes", "floats",
	"star-property-hack", "outline-none", "import", "ids", "underscore-hack",
	"universal-selector", "unqualified-attributes", "zero-units", "shorthand",
	"text-indent", "unique-headings", "qualified-headings",
}
