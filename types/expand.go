package types

import "strings"

// ExpandVars substitutes ${NAME} and $NAME references whose NAME is defined in one of the layers,
// earlier layers taking precedence. Every other reference, including shell parameters like $1, $?
// and ${NAME:-default}, is left untouched so it reaches the shell verbatim.
func ExpandVars(s string, layers ...map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	lookup := func(name string) (string, bool) {
		for _, vars := range layers {
			if v, ok := vars[name]; ok {
				return v, true
			}
		}
		return "", false
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				if isVarName(name) {
					if v, ok := lookup(name); ok {
						b.WriteString(v)
						i += end + 3
						continue
					}
				}
			}
			b.WriteByte(s[i])
			i++
			continue
		}
		n := varNameLen(s[i+1:])
		if n > 0 {
			if v, ok := lookup(s[i+1 : i+1+n]); ok {
				b.WriteString(v)
				i += n + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// varNameLen returns the length of the variable name at the start of s.
func varNameLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return i
	}
	return len(s)
}

func isVarName(s string) bool {
	return s != "" && varNameLen(s) == len(s)
}
