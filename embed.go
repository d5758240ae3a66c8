package pathwatch

import "embed"

// EmbeddedConfigFS holds the default configuration file installed by
// "pathwatch init" and layered under every loaded config.
//
//go:embed config
var EmbeddedConfigFS embed.FS
