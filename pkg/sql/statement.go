package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the text holds more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates the text holds no statement at all.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// NormalizeStatement trims s and strips one trailing semicolon, so a
// SELECT typed at a prompt can be embedded in CREATE VIEW. Text with
// another semicolon outside quotes is rejected.
func NormalizeStatement(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if s == "" {
		return "", ErrEmptyStatement
	}
	if hasSeparatorOutsideQuotes(s) {
		return "", ErrMultipleStatements
	}
	return s, nil
}

// hasSeparatorOutsideQuotes reports whether s contains ';' outside string
// literals and quoted identifiers. Doubled quotes and backslash escapes
// stay inside the literal.
func hasSeparatorOutsideQuotes(s string) bool {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote == '\'':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case ';':
			return true
		}
	}
	return false
}
