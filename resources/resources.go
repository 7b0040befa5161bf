// Package resources embeds the site profiles shipped with the module.
package resources

import "embed"

//go:embed sites/*.yaml
var SiteFiles embed.FS

// DefaultSite is the profile used when none is configured.
const DefaultSite = "chatgpt"
