package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsafeQuery is returned for anything but a single read-only SELECT.
	ErrUnsafeQuery = errors.New("query is not a single read-only SELECT")
	// ErrNoQuery is returned when there is no SQL to run.
	ErrNoQuery = errors.New("no query to execute")
)

// Keywords that modify data, schema, privileges or session state. SELECT ...
// INTO creates a table, and FOR UPDATE takes row locks.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "COPY": true, "CALL": true, "EXECUTE": true,
	"DO": true, "VACUUM": true, "REINDEX": true, "CLUSTER": true, "REFRESH": true,
	"LOCK": true, "SET": true, "RESET": true, "COMMENT": true, "INTO": true,
	"LISTEN": true, "NOTIFY": true, "PREPARE": true, "DEALLOCATE": true,
}

// CheckReadOnly accepts a single SELECT statement (optionally led by WITH)
// and returns it without the trailing semicolon. Keywords inside string
// literals, quoted identifiers and comments are ignored. The statement must
// pass whether backslashes escape quotes in string literals or not, since
// that differs between dialects and settings.
func CheckReadOnly(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "", ErrNoQuery
	}

	code := stripLiterals(trimmed, false)
	if err := checkCode(code); err != nil {
		return "", err
	}
	if err := checkCode(stripLiterals(trimmed, true)); err != nil {
		return "", err
	}

	// Cut the original text at the same length as the checked body so the
	// trailing semicolon goes but literals survive.
	return strings.TrimSpace(trimmed[:len(strings.TrimRight(code, "; \t\r\n"))]), nil
}

// checkCode checks statement text whose literals and comments are blanked.
func checkCode(code string) error {
	// Only a trailing semicolon is allowed.
	body := strings.TrimRight(strings.TrimSpace(code), "; \t\r\n")
	if strings.TrimSpace(body) == "" {
		return ErrNoQuery
	}
	if strings.Contains(body, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}

	words := sqlWords(body)
	if len(words) == 0 {
		return ErrNoQuery
	}
	if words[0] != "SELECT" && words[0] != "WITH" {
		return fmt.Errorf("%w: statement starts with %s", ErrUnsafeQuery, words[0])
	}
	for _, w := range words {
		if forbiddenKeywords[w] {
			return fmt.Errorf("%w: contains %s", ErrUnsafeQuery, w)
		}
	}
	return nil
}

// stripLiterals blanks out comments with spaces and string literals,
// dollar-quoted strings and quoted identifiers with underscores, keeping byte
// offsets aligned with the input. E'...' literals always treat a backslash
// as an escape; other string literals do when backslashEscapes is set.
func stripLiterals(s string, backslashEscapes bool) string {
	out := []byte(s)
	blank := func(from, to int, fill byte) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = fill
			}
		}
	}

	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s) - i
			}
			blank(i, i+end, ' ')
			i += end
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				blank(i, len(s), ' ')
				return string(out)
			}
			blank(i, i+2+end+2, ' ')
			i += 2 + end + 2
		case s[i] == '\'' || s[i] == '"':
			q := s[i]
			escapes := q == '\'' && (backslashEscapes || escapePrefixed(s, i))
			j := i + 1
			for j < len(s) {
				if escapes && s[j] == '\\' {
					j += 2
					continue
				}
				if s[j] == q {
					if j+1 < len(s) && s[j+1] == q {
						j += 2
						continue
					}
					break
				}
				j++
			}
			blank(i, j+1, '_')
			i = j + 1
		case s[i] == '$':
			tag, ok := dollarTag(s[i:])
			if !ok {
				i++
				continue
			}
			end := strings.Index(s[i+len(tag):], tag)
			if end < 0 {
				blank(i, len(s), '_')
				return string(out)
			}
			blank(i, i+len(tag)+end+len(tag), '_')
			i += len(tag) + end + len(tag)
		default:
			i++
		}
	}
	return string(out)
}

// escapePrefixed reports whether the quote at i opens an E'...' literal.
func escapePrefixed(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isWordByte(s[i-2])
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// dollarTag returns "$tag$" when s starts with a dollar-quote opener.
// Positional parameters such as $1 are not openers.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1], true
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && j > 1:
		default:
			return "", false
		}
	}
	return "", false
}

// sqlWords splits s into upper-cased identifier-like words. Underscores and
// digits are word characters, so updated_at is one word.
func sqlWords(s string) []string {
	return strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
}
