package soql

import (
	"fmt"
	"strings"
)

// Query is a clause-level decomposition of a SELECT statement. Clause
// bodies are opaque substrings; only their boundaries are parsed.
type Query struct {
	Fields  []string
	Object  string
	Where   string
	GroupBy string
	Having  string
	OrderBy string
	Limit   string
	Offset  string
}

// clause keywords in the order they may appear after FROM.
var tailKeywords = []string{"WHERE", "GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET"}

// Parse decomposes a SELECT statement. Subqueries inside WHERE are kept
// intact: keyword scanning ignores text inside quotes and parentheses.
func Parse(s string) (*Query, error) {
	trimmed := strings.TrimSpace(s)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return nil, fmt.Errorf("not a SELECT statement: %q", s)
	}

	fromIdx := indexKeyword(trimmed, "FROM", len("SELECT"))
	if fromIdx < 0 {
		return nil, fmt.Errorf("missing FROM clause: %q", s)
	}

	q := &Query{}
	fieldsPart := strings.TrimSpace(trimmed[len("SELECT"):fromIdx])
	for _, f := range splitTopLevel(fieldsPart, ',') {
		if f = strings.TrimSpace(f); f != "" {
			q.Fields = append(q.Fields, f)
		}
	}

	rest := strings.TrimSpace(trimmed[fromIdx+len("FROM"):])

	// Object name runs to the first tail keyword (or end of string).
	cut := len(rest)
	next := ""
	for _, kw := range tailKeywords {
		if idx := indexKeyword(rest, kw, 0); idx >= 0 && idx < cut {
			cut = idx
			next = kw
		}
	}
	q.Object = strings.TrimSpace(rest[:cut])
	if q.Object == "" {
		return nil, fmt.Errorf("missing object name: %q", s)
	}

	for next != "" {
		body := rest[cut+len(next):]
		bodyEnd := len(body)
		following := ""
		for _, kw := range tailKeywords[keywordRank(next)+1:] {
			if idx := indexKeyword(body, kw, 0); idx >= 0 && idx < bodyEnd {
				bodyEnd = idx
				following = kw
			}
		}
		setClause(q, next, strings.TrimSpace(body[:bodyEnd]))
		rest = body
		cut = bodyEnd
		next = following
	}

	return q, nil
}

func keywordRank(kw string) int {
	for i, k := range tailKeywords {
		if k == kw {
			return i
		}
	}
	return -1
}

func setClause(q *Query, kw, body string) {
	switch kw {
	case "WHERE":
		q.Where = body
	case "GROUP BY":
		q.GroupBy = body
	case "HAVING":
		q.Having = body
	case "ORDER BY":
		q.OrderBy = body
	case "LIMIT":
		q.Limit = body
	case "OFFSET":
		q.Offset = body
	}
}

// String composes the query back into its textual form.
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.Object)
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.GroupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(q.GroupBy)
	}
	if q.Having != "" {
		b.WriteString(" HAVING ")
		b.WriteString(q.Having)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit != "" {
		b.WriteString(" LIMIT ")
		b.WriteString(q.Limit)
	}
	if q.Offset != "" {
		b.WriteString(" OFFSET ")
		b.WriteString(q.Offset)
	}
	return b.String()
}

// Clone returns a deep copy.
func (q *Query) Clone() *Query {
	out := *q
	out.Fields = append([]string(nil), q.Fields...)
	return &out
}

// AndWhere ANDs an extra predicate into the existing WHERE clause. The
// existing clause is parenthesized to keep operator precedence intact.
func (q *Query) AndWhere(predicate string) {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		return
	}
	if q.Where == "" {
		q.Where = predicate
		return
	}
	q.Where = fmt.Sprintf("(%s) AND (%s)", q.Where, predicate)
}

// StripLimits removes ORDER BY, LIMIT, and OFFSET while preserving
// GROUP BY and HAVING.
func (q *Query) StripLimits() {
	q.OrderBy = ""
	q.Limit = ""
	q.Offset = ""
}

// EscapeString escapes a literal for inclusion in single quotes:
// backslash first, then the quote itself.
func EscapeString(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return v
}

// InClause renders field IN ('v1', 'v2', ...) with escaped literals.
func InClause(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + EscapeString(v) + "'"
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(quoted, ", "))
}

// indexKeyword finds the byte offset of a standalone keyword at
// parenthesis depth zero, outside quoted strings, at or after from.
// Returns -1 when absent.
func indexKeyword(s, kw string, from int) int {
	upper := strings.ToUpper(s)
	kwUpper := strings.ToUpper(kw)
	depth := 0
	inQuote := false
	for i := from; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'':
			inQuote = true
			continue
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		if strings.HasPrefix(upper[i:], kwUpper) {
			before := i == 0 || isBoundary(s[i-1])
			afterIdx := i + len(kwUpper)
			after := afterIdx >= len(s) || isBoundary(s[afterIdx])
			if before && after {
				return i
			}
		}
	}
	return -1
}

func isBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' || c == ','
}

// splitTopLevel splits on sep outside quotes and parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'':
			inQuote = true
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
