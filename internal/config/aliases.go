// Package config provides configuration file parsing for deploygate.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Dir returns the deploygate config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/deploygate if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "deploygate"), nil
}

// AliasConfig holds the short names an operator declared for collections
// and deployables. Keys are stored lower-case.
type AliasConfig struct {
	Collections map[string]string
	Deployables map[string]string
}

// Collection returns the collection name for an alias, or name unchanged.
func (a *AliasConfig) Collection(name string) string {
	return lookup(a.Collections, name)
}

// Deployable returns the deployable name for an alias, or name unchanged.
func (a *AliasConfig) Deployable(name string) string {
	return lookup(a.Deployables, name)
}

func lookup(m map[string]string, name string) string {
	if full, ok := m[strings.ToLower(strings.TrimSpace(name))]; ok {
		return full
	}
	return name
}

// LoadAliases reads the aliases file at {dir}/aliases and returns the parsed
// config. If the file does not exist, an empty config is returned without an
// error. Invalid or malformed lines are silently skipped.
//
// The file is split into [collections] and [deployables] sections of
// "alias = Full Name" lines. Lines before the first section header apply to
// both.
func LoadAliases(dir string) (*AliasConfig, error) {
	cfg := &AliasConfig{
		Collections: make(map[string]string),
		Deployables: make(map[string]string),
	}

	path := filepath.Join(dir, "aliases")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer f.Close()

	targets := []map[string]string{cfg.Collections, cfg.Deployables}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip blank lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			switch strings.ToLower(strings.TrimSpace(line[1 : len(line)-1])) {
			case "collections":
				targets = []map[string]string{cfg.Collections}
			case "deployables":
				targets = []map[string]string{cfg.Deployables}
			default:
				targets = nil // unknown section, ignore its lines
			}
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue // no "=" or "=" is first character
		}

		alias := strings.ToLower(strings.TrimSpace(line[:idx]))
		full := strings.TrimSpace(line[idx+1:])
		if alias == "" || full == "" {
			continue
		}

		for _, m := range targets {
			m[alias] = full
		}
	}

	if err := scanner.Err(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
