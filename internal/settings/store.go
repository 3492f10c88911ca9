package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store edits a settings YAML file using dotted keys such as
// "chatgpt-docstrings.aiModel".
type Store struct {
	Path string
}

// Read deserializes the file into a generic map; a missing file is empty.
func (s Store) Read() (map[string]interface{}, error) {
	data := map[string]interface{}{}
	bytes, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(bytes, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return data, nil
}

// Write persists the map back to YAML, creating directories.
func (s Store) Write(data map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	bytes, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, bytes, 0o644)
}

// Get returns the value stored under a dotted key.
func (s Store) Get(key string) (interface{}, bool, error) {
	data, err := s.Read()
	if err != nil {
		return nil, false, err
	}
	value, ok := GetValue(data, key)
	return value, ok, nil
}

// Set stores value under a dotted key and writes the file.
func (s Store) Set(key string, value interface{}) error {
	data, err := s.Read()
	if err != nil {
		return err
	}
	SetValue(data, key, value)
	return s.Write(data)
}

// Init writes a starter file unless one exists and reports whether it did.
func (s Store) Init(interpreter []string) (bool, error) {
	if _, err := os.Stat(s.Path); err == nil {
		return false, nil
	}
	data := map[string]interface{}{}
	if len(interpreter) > 0 {
		SetValue(data, Namespace+".interpreter", interpreter)
	}
	SetValue(data, Namespace+".aiModel", DefaultAIModel)
	SetValue(data, Namespace+".docstringStyle", DefaultStyle)
	SetValue(data, Namespace+".requestTimeout", DefaultTimeout)
	SetValue(data, Namespace+".showProgressNotification", true)
	return true, s.Write(data)
}

// GetValue traverses a nested map using dotted notation.
func GetValue(data map[string]interface{}, key string) (interface{}, bool) {
	parts := strings.Split(key, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, ok := m[part]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// SetValue creates nested keys referenced via dotted notation.
func SetValue(data map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			current[part] = value
			return
		}
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
}

// ParseValue coerces CLI input into bool, int, float or a list before
// storing. Comma separated input becomes a list for the interpreter key.
func ParseValue(key, input string) interface{} {
	if strings.HasSuffix(key, ".interpreter") {
		var out []string
		for _, part := range strings.Split(input, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	if b, err := strconv.ParseBool(input); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(input, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(input, 64); err == nil {
		return f
	}
	return input
}

// PrettyValue renders nested values in a one-line format.
func PrettyValue(v interface{}) string {
	switch value := v.(type) {
	case []interface{}:
		var parts []string
		for _, item := range value {
			parts = append(parts, PrettyValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(value, ", ") + "]"
	case map[string]interface{}:
		b, _ := yaml.Marshal(value)
		return strings.TrimSpace(string(b))
	default:
		return fmt.Sprint(value)
	}
}
