// Package webassets embeds the portfolio content shipped with the binary.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed data
var embedded embed.FS

// PortfolioFile is the content file name within ContentFS.
const PortfolioFile = "portfolio.json"

// ContentFS returns the embedded content directory.
func ContentFS() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(fmt.Errorf("webassets: content subfs: %w", err))
	}
	return sub
}
