package chat

import "strings"

// Expand substitutes {name} placeholders in a translated string.
func Expand(s string, args map[string]string) string {
	if len(args) == 0 {
		return s
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
