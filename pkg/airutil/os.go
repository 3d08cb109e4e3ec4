package airutil

import "github.com/drone/envsubst"

// ExpandEnv substitutes ${VAR} references in s. Values
// that fail to parse are returned empty.
func ExpandEnv(s string) string {
	val, _ := envsubst.EvalEnv(s)
	return val
}

// ExpandEnvAll expands every element of s.
func ExpandEnvAll(s []string) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = ExpandEnv(s[i])
	}
	return out
}

// ExpandEnvMap expands every value of m.
func ExpandEnvMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = ExpandEnv(v)
	}
	return out
}
