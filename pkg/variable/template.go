package variable

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	placeholderRe = regexp.MustCompile(`\$\{([^{}]+)\}`)
	identPathRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
)

// Expand substitutes every ${...} placeholder in template. Bare names and
// dotted paths resolve through the store; anything else is evaluated as an
// expression over the visible variables. A placeholder that cannot be
// resolved is left exactly as written, so Expand never fails and is
// idempotent on strings without placeholders.
func (s *Store) Expand(template string) string {
	if !strings.Contains(template, "${") {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-1])
		if inner == "" {
			return match
		}
		if identPathRe.MatchString(inner) {
			if value, ok := s.Lookup(inner); ok {
				return FormatValue(value)
			}
			return match
		}
		if value, ok := s.eval(inner); ok {
			return FormatValue(value)
		}
		return match
	})
}

// eval evaluates an expression against the visible variables. Identifiers
// are restricted to the snapshot, so imports, attribute tricks, and unknown
// names simply fail compilation and the caller keeps the raw text.
func (s *Store) eval(expression string) (interface{}, bool) {
	env := s.Snapshot()
	env["none"] = nil
	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.Function("str", func(params ...interface{}) (interface{}, error) {
			return FormatValue(params[0]), nil
		}),
	)
	if err != nil {
		return nil, false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, false
	}
	return out, true
}
