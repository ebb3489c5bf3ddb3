package browse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/models"
)

// Criteria is a parsed search expression.
type Criteria interface {
	Match(r *models.Record) bool
}

type matchAll struct{}

func (matchAll) Match(*models.Record) bool { return true }

type logical struct {
	and         bool
	left, right Criteria
}

func (l logical) Match(r *models.Record) bool {
	if l.and {
		return l.left.Match(r) && l.right.Match(r)
	}
	return l.left.Match(r) || l.right.Match(r)
}

type relation struct {
	prop, op, value string
}

func (rel relation) Match(r *models.Record) bool {
	vals := Values(r, rel.prop)
	switch rel.op {
	case "exists":
		return (len(vals) > 0) == (rel.value == "true")
	case "!=":
		for _, v := range vals {
			if strings.EqualFold(v, rel.value) {
				return false
			}
		}
		return true
	case "doesNotContain":
		needle := strings.ToLower(rel.value)
		for _, v := range vals {
			if strings.Contains(strings.ToLower(v), needle) {
				return false
			}
		}
		return true
	}
	for _, v := range vals {
		if rel.test(v) {
			return true
		}
	}
	return false
}

func (rel relation) test(v string) bool {
	switch rel.op {
	case "=":
		return strings.EqualFold(v, rel.value)
	case "contains":
		return strings.Contains(strings.ToLower(v), strings.ToLower(rel.value))
	case "derivedfrom":
		return v == rel.value || strings.HasPrefix(v, rel.value+".")
	}
	c := compareValues(v, rel.value, numeric[rel.prop] || bothNumbers(v, rel.value))
	switch rel.op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func bothNumbers(a, b string) bool {
	_, errA := strconv.ParseFloat(a, 64)
	_, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil
}

var (
	relOps    = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}
	stringOps = map[string]bool{"contains": true, "doesNotContain": true, "derivedfrom": true}
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokOp
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

// ParseCriteria parses a search expression:
//
//	criteria := "*" | expr
//	expr     := term ("or" term)*
//	term     := factor ("and" factor)*
//	factor   := "(" expr ")" | property op "quoted" | property "exists" bool
//
// with op one of = != < <= > >= contains doesNotContain derivedfrom.
func ParseCriteria(expr string) (Criteria, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return matchAll{}, nil
	}
	toks, err := tokenize(expr)
	if err != nil {
		return nil, invalidCriteria(expr, err)
	}
	p := &criteriaParser{toks: toks}
	c, err := p.or()
	if err == nil && p.pos < len(p.toks) {
		err = fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	if err != nil {
		return nil, invalidCriteria(expr, err)
	}
	return c, nil
}

func invalidCriteria(expr string, err error) error {
	return fmt.Errorf("browse: search criteria %q: %v: %w", expr, err, apperr.ErrInvalidArgument)
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokOpen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokClose, ")"})
			i++
		case c == '"':
			var b strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == '\\' && i+1 < len(s) {
					b.WriteByte(s[i+1])
					i += 2
					continue
				}
				if s[i] == '"' {
					closed = true
					i++
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, token{tokQuoted, b.String()})
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
			}
			if !relOps[op] {
				return nil, fmt.Errorf("bad operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i += len(op)
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\r\n()\"=!<>", rune(s[j])) {
				j++
			}
			toks = append(toks, token{tokWord, s[i:j]})
			i = j
		}
	}
	return toks, nil
}

type criteriaParser struct {
	toks []token
	pos  int
}

func (p *criteriaParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *criteriaParser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end")
	}
	p.pos++
	return t, nil
}

func (p *criteriaParser) keyword(word string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokWord && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *criteriaParser) or() (Criteria, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = logical{left: left, right: right}
	}
	return left, nil
}

func (p *criteriaParser) and() (Criteria, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = logical{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *criteriaParser) factor() (Criteria, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.kind == tokOpen {
		c, err := p.or()
		if err != nil {
			return nil, err
		}
		if t, err := p.next(); err != nil || t.kind != tokClose {
			return nil, fmt.Errorf("missing )")
		}
		return c, nil
	}
	if t.kind != tokWord {
		return nil, fmt.Errorf("expected property, got %q", t.text)
	}
	prop := t.text

	op, err := p.next()
	if err != nil {
		return nil, err
	}
	switch {
	case op.kind == tokWord && op.text == "exists":
		v, err := p.next()
		if err != nil {
			return nil, err
		}
		b := strings.ToLower(v.text)
		if v.kind != tokWord || (b != "true" && b != "false") {
			return nil, fmt.Errorf("exists needs true or false")
		}
		return relation{prop: prop, op: "exists", value: b}, nil
	case op.kind == tokOp, op.kind == tokWord && stringOps[op.text]:
		v, err := p.next()
		if err != nil {
			return nil, err
		}
		if v.kind != tokQuoted {
			return nil, fmt.Errorf("expected quoted value after %s", op.text)
		}
		return relation{prop: prop, op: op.text, value: v.text}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op.text)
}
