// Package assets embeds files shipped inside the shep binary.
package assets

import _ "embed"

// ConfigExample holds the annotated example configuration printed by
// "shep config example".
//
//go:embed config_example_embed.yaml
var ConfigExample []byte
