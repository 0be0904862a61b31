package sockfilter

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseExpr parses a small S-expression grammar into a PortFilterExpr tree:
//
//	expr   := leaf | combinator
//	leaf   := ("le"|"ge"|"eq") "(" side "," port ")"
//	combinator := ("and"|"or") "(" expr "," expr ")" | "not" "(" expr ")"
//	side   := "src" | "dst"
//	port   := decimal integer in [0, 65535]
//
// It exists so that CLI callers (cmd/sockdiag) and tests can express filters
// as text instead of building PortFilterExpr trees by hand; it has no
// bearing on the kernel wire format, which bytecode.Compile produces
// directly from the parsed tree.
func ParseExpr(text string) (*PortFilterExpr, error) {
	p := &parser{input: text}
	p.skipSpace()
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("sockfilter: unexpected trailing input %q", p.input[p.pos:])
	}
	return e, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) peekByte() (byte, bool) {
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	b, ok := p.peekByte()
	if !ok || b != c {
		return fmt.Errorf("sockfilter: expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) parseIdent() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func (p *parser) parseExpr() (*PortFilterExpr, error) {
	p.skipSpace()
	name := strings.ToLower(p.parseIdent())
	if name == "" {
		return nil, fmt.Errorf("sockfilter: expected identifier at offset %d", p.pos)
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var result *PortFilterExpr
	switch name {
	case "le", "ge", "eq":
		side, err := p.parseSide()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		port, err := p.parsePort()
		if err != nil {
			return nil, err
		}
		switch name {
		case "le":
			result = LE(side, port)
		case "ge":
			result = GE(side, port)
		case "eq":
			result = EQ(side, port)
		}
	case "and", "or":
		left, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if name == "and" {
			result = And(left, right)
		} else {
			result = Or(left, right)
		}
	case "not":
		child, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		result = Not(child)
	default:
		return nil, fmt.Errorf("sockfilter: unknown operator %q", name)
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *parser) parseSide() (Side, error) {
	p.skipSpace()
	ident := strings.ToLower(p.parseIdent())
	switch ident {
	case "src":
		return Src, nil
	case "dst":
		return Dst, nil
	default:
		return 0, fmt.Errorf("sockfilter: unknown side %q", ident)
	}
}

func (p *parser) parsePort() (uint16, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] >= '0' && p.input[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("sockfilter: expected port number at offset %d", start)
	}
	n, err := strconv.ParseUint(p.input[start:p.pos], 10, 32)
	if err != nil {
		return 0, err
	}
	if n > 65535 {
		return 0, fmt.Errorf("sockfilter: port %d out of range", n)
	}
	return uint16(n), nil
}
