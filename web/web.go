// Package web embeds the HTML templates and browser scripts served by the
// observer server.
package web

import "embed"

// Templates holds the page templates, parsed by the server at startup.
//
//go:embed templates/*.html
var Templates embed.FS

// Static holds the browser scripts served under /static.
//
//go:embed static
var Static embed.FS
