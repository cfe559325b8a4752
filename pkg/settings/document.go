// Package settings owns the persisted settings document and the per-job
// resolved view of it.
//
// The document is a small JSON file with three sections (cloud, download,
// ui). Callers never see a partially populated document: every leaf that is
// missing or empty on disk is filled from the built-in defaults.
package settings

import "strings"

// Built-in defaults.
const (
	DefaultOutputPath = "./downloads"
	DefaultFormat     = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	DefaultUIHost     = "127.0.0.1"
	DefaultUIPort     = 7860
)

// EnvPrefix namespaces environment overrides, e.g. CLIPNIMBUS_CLOUD_CONTAINER_NAME.
const EnvPrefix = "CLIPNIMBUS"

// Document is the on-disk settings document.
type Document struct {
	Cloud    CloudSettings    `json:"cloud" yaml:"cloud"`
	Download DownloadSettings `json:"download" yaml:"download"`
	UI       UISettings       `json:"ui" yaml:"ui"`
}

// CloudSettings configures uploads.
type CloudSettings struct {
	// ConnectionString holds Key=Value pairs separated by ';'. Empty means
	// the SDK default credential chain.
	ConnectionString string `json:"connection_string" yaml:"connection_string"`
	ContainerName    string `json:"container_name" yaml:"container_name"`
	BlobFolder       string `json:"blob_folder" yaml:"blob_folder"`
}

// DownloadSettings configures the download tool.
type DownloadSettings struct {
	OutputPath string `json:"output_path" yaml:"output_path"`
	Format     string `json:"format" yaml:"format"`
}

// UISettings configures the local web UI listener.
type UISettings struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Defaults returns the built-in document.
func Defaults() Document {
	return Document{
		Download: DownloadSettings{
			OutputPath: DefaultOutputPath,
			Format:     DefaultFormat,
		},
		UI: UISettings{
			Host: DefaultUIHost,
			Port: DefaultUIPort,
		},
	}
}

// Masked returns a copy of d with the credential replaced for display.
func (d Document) Masked() Document {
	d.Cloud.ConnectionString = MaskSecret(d.Cloud.ConnectionString)
	return d
}

// MaskSecret hides a stored secret. Empty stays empty so "not configured"
// remains visible.
func MaskSecret(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return strings.Repeat("*", 10)
}

// fillDefaults replaces empty leaves with built-in defaults. Cloud leaves
// default to empty, so only download and ui are touched.
func (d *Document) fillDefaults() {
	def := Defaults()
	if strings.TrimSpace(d.Download.OutputPath) == "" {
		d.Download.OutputPath = def.Download.OutputPath
	}
	if strings.TrimSpace(d.Download.Format) == "" {
		d.Download.Format = def.Download.Format
	}
	if strings.TrimSpace(d.UI.Host) == "" {
		d.UI.Host = def.UI.Host
	}
	if d.UI.Port == 0 {
		d.UI.Port = def.UI.Port
	}
}

// Overrides are per-job values that take precedence over the environment
// and the persisted document. Empty fields are ignored.
type Overrides struct {
	Connection string
	Container  string
	BlobFolder string
	OutputPath string
	Format     string
}

// Resolved is the merged per-job view. It is derived on every job and
// never persisted.
type Resolved struct {
	Connection string
	Container  string
	BlobFolder string
	// OutputPath is always absolute.
	OutputPath string
	Format     string
}
