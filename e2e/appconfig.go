package e2e

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ptgott/smtpmix/userconfig"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it. Also using
// YAML/JSON-compatible types only here.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	Host           string
	Port           int
	Login          string
	User           string
	Password       string
	TLS            string
	MaxMessageSize string
	// Leave empty to run without a journal.
	StorageDir string
}

const configTemplate = `---
smtp:
    host: {{ .Host }}
    port: {{ .Port }}
{{- if .Login }}
    login: {{ .Login }}
{{- end }}
    user: {{ .User }}
    password: {{ .Password }}
    tls: {{ .TLS }}
    skipCertVerification: true
    timeout: 10s
{{- if .MaxMessageSize }}
    maxMessageSize: {{ .MaxMessageSize }}
{{- end }}
message:
    from: newsletter@example.com
    to:
        - recipient@example.com
    subject: The latest from smtpmix
{{- if .StorageDir }}
storage:
    storageDir: {{ .StorageDir }}
    keyTTL: "720h"
    cleanupInterval: "10m"
{{- end }}
`

// createUserConfig renders the config template with opts and parses and
// validates the result the same way the application does.
func createUserConfig(opts appConfigOptions) (userconfig.Meta, error) {
	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	m, err := userconfig.Parse(&config)
	if err != nil {
		return userconfig.Meta{}, err
	}

	return m.CheckAndSetDefaults()
}
