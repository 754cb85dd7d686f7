package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sources names the inputs a service configuration is assembled from.
// Empty paths are skipped.
type Sources struct {
	ConfigFile  string
	EnvFile     string
	ServiceName string
}

// Loader fills a configuration struct from, in increasing precedence:
// `default` struct tags, a YAML file, a dotenv file, process environment
// variables and finally SERVICE_-prefixed environment variables.
type Loader struct {
	src    Sources
	lookup func(string) (string, bool)
}

// NewLoader creates a loader reading from the process environment.
func NewLoader(src Sources) *Loader {
	return &Loader{src: src, lookup: os.LookupEnv}
}

// WithLookup replaces the environment lookup, mostly for tests.
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	l.lookup = lookup
	return l
}

// Load populates target, which must be a pointer to a struct.
func (l *Loader) Load(target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config target must be a non-nil struct pointer, got %T", target)
	}

	if err := walkFields(v, "", applyDefault); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}

	if l.src.ConfigFile != "" {
		if err := loadYAML(target, l.src.ConfigFile); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	dotenv := map[string]string{}
	if l.src.EnvFile != "" {
		parsed, err := readEnvFile(l.src.EnvFile)
		if err != nil {
			return fmt.Errorf("failed to load environment file: %w", err)
		}
		dotenv = parsed
	}

	err := walkFields(v, "", func(field reflect.Value, sf reflect.StructField, envName string) error {
		value, name, ok := l.resolve(envName, dotenv)
		if !ok {
			return nil
		}
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("field %s from %s: %w", sf.Name, name, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}
	return nil
}

// resolve looks a variable up in precedence order and reports which name matched.
func (l *Loader) resolve(envName string, dotenv map[string]string) (string, string, bool) {
	if l.src.ServiceName != "" {
		scoped := strings.ToUpper(l.src.ServiceName) + "_" + envName
		if value, ok := l.lookup(scoped); ok {
			return value, scoped, true
		}
	}
	if value, ok := l.lookup(envName); ok {
		return value, envName, true
	}
	if value, ok := dotenv[envName]; ok {
		return value, envName, true
	}
	return "", "", false
}

func loadYAML(target any, filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// readEnvFile parses KEY=VALUE lines, ignoring blanks and # comments.
// Matching single or double quotes around a value are stripped.
func readEnvFile(filename string) (map[string]string, error) {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read environment file %s: %w", filename, err)
	}

	values := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("invalid line %d in environment file %s", i+1, filename)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
			value = value[1 : n-1]
		}
		values[key] = value
	}
	return values, nil
}
