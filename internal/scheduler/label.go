package scheduler

import (
	"fmt"
	"strings"
	"unicode"
)

// Label is a label expression over node label atoms, e.g. "linux && !arm".
// Supported operators, from lowest to highest precedence: ||, &&, !, and
// parentheses. The empty label matches every node.
type Label string

// Matcher is a compiled label expression.
type Matcher func(atoms map[string]bool) bool

// Parse compiles the expression.
func (l Label) Parse() (Matcher, error) {
	if strings.TrimSpace(string(l)) == "" {
		return func(map[string]bool) bool { return true }, nil
	}
	m, _, err := l.parse()
	return m, err
}

// parse compiles the expression and collects the atoms that appear under an
// even number of negations.
func (l Label) parse() (Matcher, map[string]bool, error) {
	p := &labelParser{toks: tokenizeLabel(string(l)), positive: make(map[string]bool)}
	m, err := p.parseOr()
	if err != nil {
		return nil, nil, fmt.Errorf("label %q: %w", string(l), err)
	}
	if p.pos < len(p.toks) {
		return nil, nil, fmt.Errorf("label %q: unexpected %q", string(l), p.toks[p.pos])
	}
	return m, p.positive, nil
}

// Targets reports whether the expression names one of atoms without
// negation, e.g. "linux && !arm" targets a node labelled linux but
// "!windows" targets nothing.
func (l Label) Targets(atoms []string) bool {
	if l.IsAny() {
		return false
	}
	_, positive, err := l.parse()
	if err != nil {
		return false
	}
	for _, a := range atoms {
		if positive[a] {
			return true
		}
	}
	return false
}

// Matches reports whether a node carrying atoms satisfies the expression.
// Unparseable expressions match nothing.
func (l Label) Matches(atoms []string) bool {
	m, err := l.Parse()
	if err != nil {
		return false
	}
	set := make(map[string]bool, len(atoms))
	for _, a := range atoms {
		set[a] = true
	}
	return m(set)
}

// IsAny reports whether the label places no restriction on nodes.
func (l Label) IsAny() bool {
	return strings.TrimSpace(string(l)) == ""
}

func tokenizeLabel(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')' || c == '!':
			toks = append(toks, string(c))
			i++
		case strings.HasPrefix(s[i:], "&&") || strings.HasPrefix(s[i:], "||"):
			toks = append(toks, s[i:i+2])
			i += 2
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n()!&|", rune(s[j])) {
				j++
			}
			if j == i {
				// lone '&' or '|'
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

type labelParser struct {
	toks     []string
	pos      int
	negated  bool
	positive map[string]bool
}

func (p *labelParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *labelParser) parseOr() (Matcher, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "||" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(a map[string]bool) bool { return l(a) || r(a) }
	}
	return left, nil
}

func (p *labelParser) parseAnd() (Matcher, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "&&" {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(a map[string]bool) bool { return l(a) && r(a) }
	}
	return left, nil
}

func (p *labelParser) parseUnary() (Matcher, error) {
	tok := p.peek()
	switch tok {
	case "":
		return nil, fmt.Errorf("unexpected end of expression")
	case "!":
		p.pos++
		p.negated = !p.negated
		inner, err := p.parseUnary()
		p.negated = !p.negated
		if err != nil {
			return nil, err
		}
		return func(a map[string]bool) bool { return !inner(a) }, nil
	case "(":
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("missing ')'")
		}
		p.pos++
		return inner, nil
	case ")", "&&", "||", "&", "|":
		return nil, fmt.Errorf("unexpected %q", tok)
	}
	p.pos++
	atom := tok
	if !p.negated {
		p.positive[atom] = true
	}
	return func(a map[string]bool) bool { return a[atom] }, nil
}
