package cmd

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// wrap is the number of characters to wrap the help text at
	wrap int = 50
)

// wrapString wraps a flag description at wrap characters.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// parseDelimiter interprets Go escape sequences, so "\n" on the command line
// or in the environment is a newline. A quote may be given bare or escaped.
// An empty string disables framing.
func parseDelimiter(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}

	var quoted strings.Builder
	quoted.WriteByte('"')
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' && !escaped {
			quoted.WriteByte('\\')
		}
		escaped = ch == '\\' && !escaped
		quoted.WriteByte(ch)
	}
	quoted.WriteByte('"')

	unquoted, err := strconv.Unquote(quoted.String())
	if err != nil {
		return nil, fmt.Errorf("invalid delimiter %q: %w", s, err)
	}
	return []byte(unquoted), nil
}
