// Package webassets embeds the browser pages so the binary serves them
// regardless of working directory.
package webassets

import "embed"

// Pages holds the page templates.
//
//go:embed templates/*.html
var Pages embed.FS

// Static holds the script and stylesheet served under /static/.
//
//go:embed static
var Static embed.FS
