package graph

import (
	"strings"
)

type tokKind int

const (
	tokIdent tokKind = iota
	tokXtrigger
	tokOffset // bracketed interval text, e.g. "-P1"
	tokQual   // qualifier text after ":"
	tokOpt    // "?"
	tokAnd
	tokOr
	tokLParen
	tokRParen
	tokArrow
)

type token struct {
	kind tokKind
	text string
}

// statements splits a graph string into logical statements: one per line,
// with lines joined when a line ends with, or the next line starts with, an
// operator. "#" starts a comment.
func statements(text string) []string {
	endsOpen := func(s string) bool {
		for _, suf := range []string{"=>", "&", "|", "("} {
			if strings.HasSuffix(s, suf) {
				return true
			}
		}
		return false
	}
	startsOpen := func(s string) bool {
		for _, pre := range []string{"=>", "&", "|", ")"} {
			if strings.HasPrefix(s, pre) {
				return true
			}
		}
		return false
	}

	var stmts []string
	cur := ""
	for _, line := range strings.Split(text, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cur != "" && (endsOpen(cur) || startsOpen(line)) {
			cur += " " + line
		} else {
			if cur != "" {
				stmts = append(stmts, cur)
			}
			cur = line
		}
	}
	if cur != "" {
		stmts = append(stmts, cur)
	}
	return stmts
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-' || c == '+' || c == '.'
}

// tokenize lexes one statement.
func tokenize(stmt string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(stmt) {
		c := stmt[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '=' && i+1 < len(stmt) && stmt[i+1] == '>':
			toks = append(toks, token{tokArrow, "=>"})
			i += 2
		case c == '&':
			toks = append(toks, token{tokAnd, "&"})
			i++
		case c == '|':
			toks = append(toks, token{tokOr, "|"})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '?':
			toks = append(toks, token{tokOpt, "?"})
			i++
		case c == '@':
			j := i + 1
			for j < len(stmt) && isIdentByte(stmt[j]) {
				j++
			}
			if j == i+1 {
				return nil, &ParseError{Line: stmt, Msg: "@ without xtrigger name"}
			}
			toks = append(toks, token{tokXtrigger, stmt[i+1 : j]})
			i = j
		case c == '[':
			j := strings.IndexByte(stmt[i:], ']')
			if j < 0 {
				return nil, &ParseError{Line: stmt, Msg: "unclosed [offset]"}
			}
			toks = append(toks, token{tokOffset, strings.TrimSpace(stmt[i+1 : i+j])})
			i += j + 1
		case c == ':':
			j := i + 1
			for j < len(stmt) && isIdentByte(stmt[j]) {
				j++
			}
			if j == i+1 {
				return nil, &ParseError{Line: stmt, Msg: ": without qualifier name"}
			}
			toks = append(toks, token{tokQual, stmt[i+1 : j]})
			i = j
		case isIdentByte(c):
			j := i
			for j < len(stmt) && isIdentByte(stmt[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, stmt[i:j]})
			i = j
		default:
			return nil, &ParseError{Line: stmt, Msg: "unexpected character " + string(c)}
		}
	}
	return toks, nil
}

// ref is one parsed task reference with its raw qualifier and offset text.
type ref struct {
	name   string
	offset string // raw bracketed text; "" for the same cycle point
	qual   string // raw qualifier; "" defaults to succeeded
	opt    bool
}

// node is the raw parse tree, before qualifier/offset resolution.
type node struct {
	op    Op
	ref   *ref
	xtrig string
	kids  []*node
}

type parser struct {
	line string
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) errf(msg string) error {
	return &ParseError{Line: p.line, Msg: msg}
}

// parseChain parses "expr (=> expr)*".
func (p *parser) parseChain() ([]*node, error) {
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	chain := []*node{first}
	for {
		t, ok := p.peek()
		if !ok {
			return chain, nil
		}
		if t.kind != tokArrow {
			return nil, p.errf("unexpected " + t.text)
		}
		p.pos++
		next, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		chain = append(chain, next)
	}
}

// parseExpr parses "term ((& | '|') term)*". Mixing & and | at one level is
// rejected: the precedence of unparenthesised mixed operators is not
// defined, so explicit parentheses are required.
func (p *parser) parseExpr() (*node, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	kids := []*node{first}
	op := Op(-1)
	for {
		t, ok := p.peek()
		if !ok || (t.kind != tokAnd && t.kind != tokOr) {
			break
		}
		this := OpAnd
		if t.kind == tokOr {
			this = OpOr
		}
		if op >= 0 && this != op {
			return nil, p.errf("mixed & and | require parentheses")
		}
		op = this
		p.pos++
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		kids = append(kids, term)
	}
	if len(kids) == 1 {
		return first, nil
	}
	return &node{op: op, kids: kids}, nil
}

// parseTerm parses a parenthesised expression, an xtrigger, or a task
// reference "name[offset][:qual][?]".
func (p *parser) parseTerm() (*node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errf("unexpected end of expression")
	}
	switch t.kind {
	case tokLParen:
		p.pos++
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		t, ok = p.peek()
		if !ok || t.kind != tokRParen {
			return nil, p.errf("missing )")
		}
		p.pos++
		return e, nil
	case tokXtrigger:
		p.pos++
		return &node{op: OpTrigger, xtrig: t.text}, nil
	case tokIdent:
		p.pos++
		r := &ref{name: t.text}
		for {
			t, ok = p.peek()
			if !ok {
				break
			}
			switch t.kind {
			case tokOffset:
				if r.offset != "" {
					return nil, p.errf("repeated [offset] on " + r.name)
				}
				r.offset = t.text
				p.pos++
				continue
			case tokQual:
				if r.qual != "" {
					return nil, p.errf("repeated qualifier on " + r.name)
				}
				r.qual = t.text
				p.pos++
				continue
			case tokOpt:
				if r.opt {
					return nil, p.errf("repeated ? on " + r.name)
				}
				r.opt = true
				p.pos++
				continue
			}
			break
		}
		return &node{op: OpTrigger, ref: r}, nil
	default:
		return nil, p.errf("unexpected " + t.text)
	}
}

// parseStatement tokenizes and parses one statement into its chain.
func parseStatement(stmt string) ([]*node, error) {
	toks, err := tokenize(stmt)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	p := &parser{line: stmt, toks: toks}
	return p.parseChain()
}
