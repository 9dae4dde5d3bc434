package webassets

import "embed"

// Files contains the embedded dashboard assets.
//
// Keep this broad enough so web page updates are automatically packaged in binaries.
//
//go:embed *.html *.js
var Files embed.FS
