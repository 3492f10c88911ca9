package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Discovery finds the active interpreter when none is configured.
type Discovery interface {
	Active(ctx context.Context, root string) ([]string, error)
}

// Loader reads settings fresh from disk on every call. Nothing is cached, so
// a changed file is always observed by the next restart or request.
type Loader struct {
	Namespace  string
	GlobalFile string
	Folders    []Folder
	Discovery  Discovery
	Logger     *log.Logger

	Getenv func(string) string
	Getwd  func() (string, error)
}

// NewLoader returns a loader for the default namespace.
func NewLoader(globalFile string, folders []Folder, discovery Discovery) *Loader {
	return &Loader{
		Namespace:  Namespace,
		GlobalFile: globalFile,
		Folders:    folders,
		Discovery:  discovery,
	}
}

// layered is an ordered list of viper instances, highest precedence first.
type layered []*viper.Viper

func (l layered) lookup(key string) (*viper.Viper, bool) {
	for _, v := range l {
		if v != nil && v.IsSet(key) {
			return v, true
		}
	}
	return nil, false
}

func (l layered) str(key, def string) string {
	if v, ok := l.lookup(key); ok {
		return v.GetString(key)
	}
	return def
}

func (l layered) boolean(key string, def bool) bool {
	if v, ok := l.lookup(key); ok {
		return v.GetBool(key)
	}
	return def
}

func (l layered) integer(key string, def int) int {
	if v, ok := l.lookup(key); ok {
		return v.GetInt(key)
	}
	return def
}

func (l layered) list(key string) []string {
	if v, ok := l.lookup(key); ok {
		return v.GetStringSlice(key)
	}
	return nil
}

func (l layered) raw(key string) any {
	if v, ok := l.lookup(key); ok {
		return v.Get(key)
	}
	return nil
}

func (l *Loader) readLayer(path string) *viper.Viper {
	v := viper.New()
	if path == "" {
		return v
	}
	if _, err := os.Stat(path); err != nil {
		return v
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		l.logger().Warn("ignoring unreadable settings file", "path", path, "err", err)
		return viper.New()
	}
	return v
}

func (l *Loader) global() layered {
	return layered{l.readLayer(l.GlobalFile)}
}

func (l *Loader) scoped(folder Folder) layered {
	return layered{l.readLayer(folder.SettingsPath()), l.readLayer(l.GlobalFile)}
}

func (l *Loader) key(name string) string {
	return l.namespace() + "." + name
}

// WorkspaceSettings resolves the settings of one folder. When
// includeInterpreter is set and no interpreter is configured the discovered
// interpreter is used.
func (l *Loader) WorkspaceSettings(ctx context.Context, folder Folder, includeInterpreter bool) Settings {
	layers := l.scoped(folder)

	var interpreter []string
	if includeInterpreter {
		interpreter = layers.list(l.key("interpreter"))
		if len(interpreter) == 0 {
			interpreter = l.discover(ctx, folder.Path)
		}
	}

	// A custom model set closer to the folder beats a stock model set further away.
	model := DefaultAIModel
	for _, layer := range layers {
		if layer.IsSet(l.key("aiModelCustom")) {
			model = layer.GetString(l.key("aiModelCustom"))
			break
		}
		if layer.IsSet(l.key("aiModel")) {
			model = layer.GetString(l.key("aiModel"))
			break
		}
	}

	return Settings{
		Cwd:                      folder.Path,
		Workspace:                string(folder.URI()),
		Interpreter:              l.resolveVariables(interpreter, &folder),
		BaseURL:                  layers.str(l.key("baseUrl"), DefaultBaseURL),
		AIModel:                  model,
		DocstringStyle:           layers.str(l.key("docstringStyle"), DefaultStyle),
		OnNewLine:                layers.boolean(l.key("onNewLine"), false),
		PromptPattern:            layers.str(l.key("promptPattern"), DefaultPromptPattern),
		RequestTimeout:           layers.integer(l.key("requestTimeout"), DefaultTimeout),
		ShowProgressNotification: layers.boolean(l.key("showProgressNotification"), true),
		CodeAnalyzer:             layers.str(l.key("codeAnalyzer"), DefaultCodeAnalyzer),
		Proxy:                    l.proxy(layers),
	}
}

// GlobalSettings resolves settings from the user level file only.
func (l *Loader) GlobalSettings(ctx context.Context, includeInterpreter bool) Settings {
	layers := l.global()
	cwd := l.cwd()

	var interpreter []string
	if includeInterpreter {
		interpreter = layers.list(l.key("interpreter"))
		if len(interpreter) == 0 {
			interpreter = l.discover(ctx, cwd)
		}
	}

	model := layers.str(l.key("aiModelCustom"), "")
	if model == "" {
		model = layers.str(l.key("aiModel"), DefaultAIModel)
	}

	return Settings{
		Cwd:                      cwd,
		Workspace:                cwd,
		Interpreter:              interpreter,
		BaseURL:                  layers.str(l.key("baseUrl"), DefaultBaseURL),
		AIModel:                  model,
		DocstringStyle:           layers.str(l.key("docstringStyle"), DefaultStyle),
		OnNewLine:                layers.boolean(l.key("onNewLine"), false),
		PromptPattern:            layers.str(l.key("promptPattern"), DefaultPromptPattern),
		RequestTimeout:           layers.integer(l.key("requestTimeout"), DefaultTimeout),
		ShowProgressNotification: layers.boolean(l.key("showProgressNotification"), true),
		CodeAnalyzer:             layers.str(l.key("codeAnalyzer"), DefaultCodeAnalyzer),
		Proxy:                    l.proxy(layers),
	}
}

// WorkspaceFolders returns the folders opened by the host.
func (l *Loader) WorkspaceFolders() []Folder {
	return l.Folders
}

// ExtensionSettings resolves the settings of every workspace folder.
func (l *Loader) ExtensionSettings(ctx context.Context, includeInterpreter bool) []Settings {
	out := make([]Settings, 0, len(l.Folders))
	for _, folder := range l.Folders {
		out = append(out, l.WorkspaceSettings(ctx, folder, includeInterpreter))
	}
	return out
}

// InitializationOptions builds the initialize payload for the server.
func (l *Loader) InitializationOptions(ctx context.Context) InitializationOptions {
	return InitializationOptions{
		Settings:       l.ExtensionSettings(ctx, true),
		GlobalSettings: l.GlobalSettings(ctx, false),
	}
}

// ConfiguredInterpreter returns the explicitly configured interpreter for the
// project root, or nil when the user has not set one.
func (l *Loader) ConfiguredInterpreter(ctx context.Context) []string {
	root := l.ProjectRoot()
	interpreter := l.scoped(root).list(l.key("interpreter"))
	if len(interpreter) == 0 {
		return nil
	}
	return l.resolveVariables(interpreter, &root)
}

// ProjectRoot picks the folder the server runs in. With several folders the
// first existing one wins unless a shorter existing path is found.
func (l *Loader) ProjectRoot() Folder {
	switch len(l.Folders) {
	case 0:
		return NewFolder(l.cwd())
	case 1:
		return l.Folders[0]
	}
	root := l.Folders[0]
	found := false
	for _, f := range l.Folders {
		if exists(f.Path) {
			root, found = f, true
			break
		}
	}
	if !found {
		return root
	}
	for _, f := range l.Folders {
		if len(root.Path) > len(f.Path) && exists(f.Path) {
			root = f
		}
	}
	return root
}

// Snapshot captures the effective value of every watched key. Folder files
// are keyed by folder path so a change in any of them is visible.
func (l *Loader) Snapshot() map[string]any {
	out := map[string]any{}
	global := l.global()
	for _, key := range WatchedKeys(l.namespace()) {
		out[key] = global.raw(key)
	}
	for _, folder := range l.Folders {
		layer := layered{l.readLayer(folder.SettingsPath())}
		for _, key := range WatchedKeys(l.namespace()) {
			out[folder.Path+"#"+key] = layer.raw(key)
		}
	}
	return out
}

// ChangedKeys lists the setting keys whose value differs between snapshots.
func ChangedKeys(before, after map[string]any) []string {
	seen := map[string]bool{}
	for key, value := range after {
		if !reflect.DeepEqual(before[key], value) {
			seen[stripFolder(key)] = true
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			seen[stripFolder(key)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func stripFolder(key string) string {
	if i := strings.LastIndex(key, "#"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func (l *Loader) proxy(layers layered) Proxy {
	ext := Proxy{
		URL:           layers.str(l.key("proxy"), ""),
		Authorization: layers.str(l.key("proxyAuthorization"), ""),
		StrictSSL:     layers.boolean(l.key("proxyStrictSSL"), false),
	}
	app := Proxy{
		URL:           layers.str(HTTPNamespace+".proxy", ""),
		Authorization: layers.str(HTTPNamespace+".proxyAuthorization", ""),
		StrictSSL:     layers.boolean(HTTPNamespace+".proxyStrictSSL", false),
	}
	support := layers.str(HTTPNamespace+".proxySupport", "")
	if ext.URL == "" && support != "off" && app.URL != "" {
		return app
	}
	return ext
}

func (l *Loader) resolveVariables(values []string, folder *Folder) []string {
	if len(values) == 0 {
		return values
	}
	var pairs []string
	home := l.getenv("HOME")
	if home == "" {
		home = l.getenv("USERPROFILE")
	}
	if home != "" {
		pairs = append(pairs, "${userHome}", home)
	}
	if folder != nil {
		pairs = append(pairs, "${workspaceFolder}", folder.Path)
	}
	pairs = append(pairs, "${cwd}", l.cwd())
	for _, f := range l.Folders {
		pairs = append(pairs, fmt.Sprintf("${workspaceFolder:%s}", f.Name), f.Path)
	}
	replacer := strings.NewReplacer(pairs...)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = replacer.Replace(v)
	}
	return out
}

func (l *Loader) discover(ctx context.Context, root string) []string {
	if l.Discovery == nil {
		return nil
	}
	interpreter, err := l.Discovery.Active(ctx, root)
	if err != nil {
		l.logger().Debug("no interpreter discovered", "root", root, "err", err)
		return nil
	}
	return interpreter
}

func (l *Loader) namespace() string {
	if l.Namespace == "" {
		return Namespace
	}
	return l.Namespace
}

func (l *Loader) cwd() string {
	getwd := l.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}
	wd, err := getwd()
	if err != nil {
		return "."
	}
	return wd
}

func (l *Loader) getenv(key string) string {
	if l.Getenv == nil {
		return os.Getenv(key)
	}
	return l.Getenv(key)
}

func (l *Loader) logger() *log.Logger {
	if l.Logger == nil {
		return log.Default()
	}
	return l.Logger
}

func exists(path string) bool {
	_, err := os.Stat(filepath.Clean(path))
	return err == nil
}
