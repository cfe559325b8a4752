// Package webassets embeds the local UI templates.
package webassets

import "embed"

//go:embed templates/*.html
var Templates embed.FS
