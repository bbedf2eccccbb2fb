package domain

import "strings"

// BuildFQN joins name parts into a dot-separated fully-qualified name. Parts
// containing a dot are quoted so the FQN stays splittable.
func BuildFQN(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.Contains(p, ".") {
			p = `"` + p + `"`
		}
		quoted = append(quoted, p)
	}
	return strings.Join(quoted, ".")
}

// FQNAdd appends a child name to an existing FQN.
func FQNAdd(fqn, child string) string {
	if fqn == "" {
		return BuildFQN(child)
	}
	return fqn + "." + BuildFQN(child)
}
