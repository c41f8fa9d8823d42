package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// LoadEnvFile parses a dotenv file into a key/value map. A missing
// file yields an empty map. Lines are KEY=VALUE with an optional
// `export ` prefix; blank lines and # comments are skipped and
// surrounding quotes trimmed. Callers layer the result under the
// process environment, never over it.
func LoadEnvFile(path string) (map[string]string, error) {
	vars := make(map[string]string)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vars, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad,
			fmt.Sprintf("failed to read env file %s", path))
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")
		vars[key] = value
	}
	return vars, nil
}
