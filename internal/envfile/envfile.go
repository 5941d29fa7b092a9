// Package envfile loads container environment from dotenv-style files,
// matching the engine CLI's --env-file contract: KEY=VALUE assignments,
// comments and blank lines, and bare KEY lines that pass the variable
// through from the calling process environment.
package envfile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads the env file at path and returns entries in the KEY=VALUE form
// the engine expects. Entries are sorted by key so output is stable.
func Load(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return parse(string(b))
}

// LoadOptional behaves like Load but treats a missing file as an empty
// environment.
func LoadOptional(path string) ([]string, error) {
	env, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return env, err
}

func parse(body string) ([]string, error) {
	var assignments []string
	var passthrough []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.ContainsRune(trimmed, '=') {
			assignments = append(assignments, line)
			continue
		}
		passthrough = append(passthrough, trimmed)
	}

	vars, err := godotenv.Unmarshal(strings.Join(assignments, "\n"))
	if err != nil {
		return nil, fmt.Errorf("parse env file: %w", err)
	}
	for _, key := range passthrough {
		if v, ok := os.LookupEnv(key); ok {
			vars[key] = v
		}
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out, nil
}
