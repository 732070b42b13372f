package workflow

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// refPattern matches one reference token: "@" followed by an id.
	refPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)
	// stepPattern matches the positional form of a token body, e.g. "Step3".
	stepPattern = regexp.MustCompile(`(?i)^step(\d+)$`)
)

// ResolveReferences substitutes every reference in template with the output
// of the node it names. A positional reference (@Step3, case-insensitive)
// points at nodes[2] in declaration order; a named reference (@writer) points
// at the node with that id. Positional resolution is tried first. References
// that cannot be resolved are left untouched, so the function never fails.
func ResolveReferences(template string, outputs map[string]string, nodes []*Node) string {
	if !strings.Contains(template, "@") {
		return template
	}
	return refPattern.ReplaceAllStringFunc(template, func(token string) string {
		if v, ok := resolveToken(token[1:], outputs, nodes); ok {
			return v
		}
		return token
	})
}

// ResolveRef resolves a single reference such as "@Step2", "step2" or
// "@writer". The leading "@" is optional.
func ResolveRef(ref string, outputs map[string]string, nodes []*Node) (string, bool) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if ref == "" {
		return "", false
	}
	return resolveToken(ref, outputs, nodes)
}

func resolveToken(body string, outputs map[string]string, nodes []*Node) (string, bool) {
	if m := stepPattern.FindStringSubmatch(body); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= len(nodes) {
			if v, ok := outputs[nodes[idx-1].ID]; ok {
				return v, true
			}
		}
	}
	v, ok := outputs[body]
	return v, ok
}
