package web

import (
	"embed"
)

// The control page is embedded so the binary is self-contained on the Pi.
//
//go:embed static/*
var staticFiles embed.FS
