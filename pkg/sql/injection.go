// Package sql checks SQL text before it is embedded in generated DDL.
package sql

import (
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// ExpressionCheckResult explains why an expression was rejected.
type ExpressionCheckResult struct {
	Expression  string
	Reason      string
	Fingerprint string // libinjection fingerprint, when libinjection flagged it
}

// CheckExpression decides whether expr can be embedded in DDL as a single
// SQL expression, e.g. after DEFAULT. It returns nil when the expression is
// acceptable.
//
// Outside string literals the expression must not contain statement
// separators or comments, and quotes and parentheses must balance. The
// whole text is then run through libinjection.
//
// Example:
//
//	CheckExpression("now()")                    // nil
//	CheckExpression("0; DROP TABLE users")      // Reason: "statement separator"
func CheckExpression(expr string) *ExpressionCheckResult {
	if strings.TrimSpace(expr) == "" {
		return &ExpressionCheckResult{Expression: expr, Reason: "empty expression"}
	}

	if reason := scanExpression(expr); reason != "" {
		return &ExpressionCheckResult{Expression: expr, Reason: reason}
	}

	isSQLi, fingerprint := libinjection.IsSQLi(expr)
	if isSQLi {
		return &ExpressionCheckResult{
			Expression:  expr,
			Reason:      "matches SQL injection pattern",
			Fingerprint: string(fingerprint),
		}
	}

	return nil
}

// scanExpression walks expr tracking quoted regions and returns a reason
// string for the first structural problem found.
func scanExpression(expr string) string {
	var (
		inSingle bool
		inDouble bool
		depth    int
	)

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inSingle:
			if c == '\'' {
				if i+1 < len(expr) && expr[i+1] == '\'' {
					i++
					continue
				}
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		default:
			switch c {
			case '\'':
				inSingle = true
			case '"':
				inDouble = true
			case ';':
				return "statement separator"
			case '-':
				if i+1 < len(expr) && expr[i+1] == '-' {
					return "comment"
				}
			case '/':
				if i+1 < len(expr) && expr[i+1] == '*' {
					return "comment"
				}
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return "unbalanced parentheses"
				}
			}
		}
	}

	if inSingle || inDouble {
		return "unterminated quoted string"
	}
	if depth != 0 {
		return "unbalanced parentheses"
	}
	return ""
}
