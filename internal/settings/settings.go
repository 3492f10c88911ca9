// Package settings resolves the language server settings from layered YAML
// files and watches them for changes.
package settings

import (
	"os"
	"path/filepath"

	"go.lsp.dev/uri"
)

// Namespace prefixes every server setting key.
const Namespace = "chatgpt-docstrings"

// HTTPNamespace holds the application wide proxy settings.
const HTTPNamespace = "http"

const (
	DefaultBaseURL       = "https://api.openai.com/v1"
	DefaultAIModel       = "gpt-4o-mini"
	DefaultStyle         = "google"
	DefaultPromptPattern = "Generate a {docstring_style}-style docstring for the following Python {entity} code:\n{code}"
	DefaultTimeout       = 15
	DefaultCodeAnalyzer  = "jedi"
)

// Proxy configures the HTTP proxy used by the server for AI requests.
type Proxy struct {
	URL           string `json:"url" yaml:"url"`
	Authorization string `json:"authorization" yaml:"authorization"`
	StrictSSL     bool   `json:"strictSSL" yaml:"strictSSL"`
}

// Settings is the resolved configuration for one workspace folder. It is sent
// to the server as initialization options and drives the launch spec.
type Settings struct {
	Cwd                      string   `json:"cwd" yaml:"cwd"`
	Workspace                string   `json:"workspace" yaml:"workspace"`
	Interpreter              []string `json:"interpreter" yaml:"interpreter"`
	BaseURL                  string   `json:"baseUrl" yaml:"baseUrl"`
	AIModel                  string   `json:"aiModel" yaml:"aiModel"`
	DocstringStyle           string   `json:"docstringStyle" yaml:"docstringStyle"`
	OnNewLine                bool     `json:"onNewLine" yaml:"onNewLine"`
	PromptPattern            string   `json:"promptPattern" yaml:"promptPattern"`
	RequestTimeout           int      `json:"requestTimeout" yaml:"requestTimeout"`
	ShowProgressNotification bool     `json:"showProgressNotification" yaml:"showProgressNotification"`
	CodeAnalyzer             string   `json:"codeAnalyzer" yaml:"codeAnalyzer"`
	Proxy                    Proxy    `json:"proxy" yaml:"proxy"`
}

// InitializationOptions is the payload of the initialize request.
type InitializationOptions struct {
	Settings       []Settings `json:"settings"`
	GlobalSettings Settings   `json:"globalSettings"`
}

// Folder is a workspace folder opened by the host.
type Folder struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// NewFolder names the folder after its base directory.
func NewFolder(path string) Folder {
	return Folder{Name: filepath.Base(path), Path: path}
}

// URI returns the file URI of the folder.
func (f Folder) URI() uri.URI {
	return uri.File(f.Path)
}

// SettingsPath is the per-folder settings file.
func (f Folder) SettingsPath() string {
	return filepath.Join(f.Path, ".docstrings", "settings.yaml")
}

// GlobalPath returns the user level settings file, honouring XDG_CONFIG_HOME.
func GlobalPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, Namespace, "settings.yaml")
}

// WatchedKeys lists the settings whose change requires a server restart.
func WatchedKeys(namespace string) []string {
	keys := []string{
		"interpreter",
		"baseUrl",
		"aiModel",
		"aiModelCustom",
		"docstringStyle",
		"onNewLine",
		"promptPattern",
		"requestTimeout",
		"codeAnalyzer",
		"proxy",
		"proxyAuthorization",
		"proxyStrictSSL",
	}
	out := make([]string, 0, len(keys)+4)
	for _, k := range keys {
		out = append(out, namespace+"."+k)
	}
	return append(out,
		HTTPNamespace+".proxy",
		HTTPNamespace+".proxyAuthorization",
		HTTPNamespace+".proxyStrictSSL",
		HTTPNamespace+".proxySupport",
	)
}
