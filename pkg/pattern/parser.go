package pattern

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return "'" + t.text + "'"
	}
	return fmt.Sprintf("%q", t.text)
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c, width := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(c):
			i += width
		case isIdentStart(c):
			start := i
			for i < len(input) {
				r, w := utf8.DecodeRuneInString(input[i:])
				if !isIdentStart(r) && !unicode.IsDigit(r) {
					break
				}
				i += w
			}
			toks = append(toks, token{kind: tokIdent, text: input[start:i], pos: start})
		case c == '"':
			start := i
			i++
			for i < len(input) && input[i] != '"' {
				i++
			}
			if i >= len(input) {
				return nil, &ParseError{Pos: start, Msg: "unterminated quoted identifier", Input: input}
			}
			toks = append(toks, token{kind: tokIdent, text: input[start+1 : i], pos: start})
			i++
		case '0' <= c && c <= '9':
			start := i
			for i < len(input) && ('0' <= input[i] && input[i] <= '9' || input[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: input[start:i], pos: start})
		case c == '\'':
			start := i
			var b strings.Builder
			i++
			for {
				if i >= len(input) {
					return nil, &ParseError{Pos: start, Msg: "unterminated string literal", Input: input}
				}
				if input[i] == '\'' {
					if i+1 < len(input) && input[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteByte(input[i])
				i++
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: start})
		case strings.ContainsRune("()[]{},:|.=*+?-<>", c):
			toks = append(toks, token{kind: tokPunct, text: string(c), pos: i})
			i++
		default:
			return nil, &ParseError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c), Input: input}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(input)})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

type parser struct {
	input string
	toks  []token
	pos   int
}

func newParser(input string) (*parser, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	return &parser{input: input, toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Pos: t.pos, Msg: fmt.Sprintf(format, args...), Input: p.input}
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) acceptPunct(s string) bool {
	if p.isPunct(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectPunct(s string) error {
	if !p.acceptPunct(s) {
		return p.errorf(p.peek(), "expected %q, found %s", s, p.peek())
	}
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errorf(p.peek(), "expected %s, found %s", kw, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) expectIdent(what string) (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", p.errorf(t, "expected %s, found %s", what, t)
	}
	p.pos++
	return t.text, nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return p.errorf(t, "unexpected %s after pattern", t)
	}
	return nil
}

// ParsePath parses a single path pattern such as (a:person)-[:knows]->{1,3}(b).
func ParsePath(text string) (*PathPattern, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return path, nil
}

// ParseMatch parses a GRAPH_TABLE call:
//
//	GRAPH_TABLE (graph MATCH path [, path ...] [WHERE v.prop = literal [AND ...]] [COLUMNS (v, ...)]) [[AS] alias]
func ParseMatch(text string) (*MatchQuery, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	m, err := p.parseGraphTable()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *parser) parseGraphTable() (*MatchQuery, error) {
	if err := p.expectKeyword("GRAPH_TABLE"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	graph, err := p.expectIdent("property graph name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("MATCH"); err != nil {
		return nil, err
	}
	m := &MatchQuery{Graph: graph}
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		m.Paths = append(m.Paths, *path)
		if !p.acceptPunct(",") {
			break
		}
	}
	if p.isKeyword("WHERE") {
		p.pos++
		if m.Where, err = p.parseWhere(); err != nil {
			return nil, err
		}
	}
	if p.isKeyword("COLUMNS") {
		p.pos++
		if m.Columns, err = p.parseColumns(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if p.isKeyword("AS") {
		p.pos++
		if m.Alias, err = p.expectIdent("alias"); err != nil {
			return nil, err
		}
	} else if p.peek().kind == tokIdent {
		m.Alias = p.next().text
	}
	return m, nil
}

func (p *parser) parsePath() (*PathPattern, error) {
	path := &PathPattern{}
	v, err := p.parseVertex()
	if err != nil {
		return nil, err
	}
	path.Elements = append(path.Elements, v)
	for p.isPunct("-") || p.isPunct("<") {
		e, err := p.parseEdge()
		if err != nil {
			return nil, err
		}
		v, err := p.parseVertex()
		if err != nil {
			return nil, err
		}
		path.Elements = append(path.Elements, e, v)
	}
	if err := path.Validate(); err != nil {
		return nil, &ParseError{Pos: p.peek().pos, Msg: err.Error(), Input: p.input}
	}
	return path, nil
}

func (p *parser) parseVertex() (*VertexPattern, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	v := &VertexPattern{}
	var err error
	if p.peek().kind == tokIdent {
		v.Variable = p.next().text
	}
	if p.acceptPunct(":") {
		if v.Labels, err = p.parseLabels(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *parser) parseLabels() ([]string, error) {
	var labels []string
	for {
		l, err := p.expectIdent("label")
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
		if !p.acceptPunct("|") {
			return labels, nil
		}
	}
}

// parseEdge accepts -[...]->, <-[...]-, -[...]- and the abbreviations ->, <-, -,
// each optionally followed by a quantifier.
func (p *parser) parseEdge() (*EdgePattern, error) {
	start := p.peek()
	e := &EdgePattern{MinHops: 1, MaxHops: 1}
	left := p.acceptPunct("<")
	if err := p.expectPunct("-"); err != nil {
		return nil, err
	}
	if p.acceptPunct("[") {
		if p.peek().kind == tokIdent {
			e.Variable = p.next().text
		}
		if p.acceptPunct(":") {
			var err error
			if e.Labels, err = p.parseLabels(); err != nil {
				return nil, err
			}
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("-"); err != nil {
			return nil, err
		}
	}
	right := p.acceptPunct(">")
	switch {
	case left && right:
		return nil, p.errorf(start, "edge cannot point in both directions")
	case left:
		e.Direction = Incoming
	case right:
		e.Direction = Outgoing
	default:
		e.Direction = Any
	}
	if err := p.parseQuantifier(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) parseQuantifier(e *EdgePattern) error {
	switch {
	case p.acceptPunct("*"):
		e.MinHops, e.MaxHops = 0, Unbounded
	case p.acceptPunct("+"):
		e.MinHops, e.MaxHops = 1, Unbounded
	case p.acceptPunct("?"):
		e.MinHops, e.MaxHops = 0, 1
	case p.isPunct("{"):
		open := p.next()
		lo, err := p.parseInt()
		if err != nil {
			return err
		}
		e.MinHops, e.MaxHops = lo, lo
		if p.acceptPunct(",") {
			e.MaxHops = Unbounded
			if p.peek().kind == tokNumber {
				if e.MaxHops, err = p.parseInt(); err != nil {
					return err
				}
			}
		}
		if err := p.expectPunct("}"); err != nil {
			return err
		}
		if e.MaxHops != Unbounded && e.MaxHops < e.MinHops {
			return p.errorf(open, "quantifier {%d,%d} has max below min", e.MinHops, e.MaxHops)
		}
		if e.MaxHops == 0 {
			return p.errorf(open, "quantifier must allow at least one hop")
		}
	}
	return nil
}

func (p *parser) parseInt() (int, error) {
	t := p.peek()
	if t.kind != tokNumber {
		return 0, p.errorf(t, "expected hop count, found %s", t)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, p.errorf(t, "invalid hop count %s", t.text)
	}
	p.pos++
	return n, nil
}

func (p *parser) parseWhere() ([]Equality, error) {
	var out []Equality
	for {
		v, err := p.expectIdent("variable")
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("."); err != nil {
			return nil, err
		}
		prop, err := p.expectIdent("property")
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		out = append(out, Equality{Variable: v, Property: prop, Value: val})
		if !p.isKeyword("AND") {
			return out, nil
		}
		p.pos++
	}
}

func (p *parser) parseLiteral() (any, error) {
	t := p.peek()
	neg := false
	if t.kind == tokPunct && t.text == "-" {
		neg = true
		p.pos++
		t = p.peek()
	}
	switch {
	case t.kind == tokString && !neg:
		p.pos++
		return t.text, nil
	case t.kind == tokNumber:
		p.pos++
		text := t.text
		if neg {
			text = "-" + text
		}
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, p.errorf(t, "invalid number %s", t.text)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %s", t.text)
		}
		return n, nil
	case t.kind == tokIdent && !neg && (strings.EqualFold(t.text, "true") || strings.EqualFold(t.text, "false")):
		p.pos++
		return strings.EqualFold(t.text, "true"), nil
	}
	return nil, p.errorf(t, "expected literal, found %s", t)
}

func (p *parser) parseColumns() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.expectIdent("column")
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return cols, nil
}
