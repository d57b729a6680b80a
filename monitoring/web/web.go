// Package web holds the dashboard page served by the monitor.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed dist/index.html
var staticAssets embed.FS

// GetAssets returns the dashboard files rooted at dist.
func GetAssets() http.FileSystem {
	subFS, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(subFS)
}
