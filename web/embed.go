package webassets

import "embed"

const (
	// LoginTemplate renders the provider list.
	LoginTemplate = "login.html"
	// TokenClientScript captures the post-login token and drives the refresh exchange.
	TokenClientScript = "token-client.js"
)

// FS contains embedded web assets from this directory.
//
//go:embed login.html token-client.js
var FS embed.FS
