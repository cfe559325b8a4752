// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so settings validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// SettingsSchema is the embedded settings document JSON schema.
//
//go:embed settings.schema.json
var SettingsSchema []byte
