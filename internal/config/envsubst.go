package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${NAME} placeholders. An unterminated "${" does not
// match and is left untouched, so malformed input is never partially substituted.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveEnvVars recursively walks maps, slices, and strings, replacing
// every ${NAME} substring with the value of environment variable NAME
// (empty string when unset). All other value types pass through unchanged.
//
// The function is idempotent as long as the substituted values do not
// themselves contain placeholders: applying it twice yields the same
// result as applying it once.
func ResolveEnvVars(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ResolveEnvVars(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ResolveEnvVars(val)
		}
		return out
	case string:
		return resolveString(t)
	default:
		return v
	}
}

func resolveString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
