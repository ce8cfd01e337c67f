// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathexpr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// From parses a textual path pattern.
//
// # Description
//
// Never panics and never returns an error: parse failures are captured
// on the returned expression and surface through IsValid and Err. A
// segment that spells a declared node kind becomes a kind pattern;
// anything else is a literal id pattern.
//
// # Inputs
//
//   - pattern: Expression text, e.g. "A-[owns]->*->Constant{value:5}".
//
// # Outputs
//
//   - *PathExpression: Always non-nil.
//
// # Example
//
//	expr := pathexpr.From("input->**{1,3}->Output")
//	if !expr.IsValid() {
//	    return expr.Err()
//	}
func From(pattern string) *PathExpression {
	expr := &PathExpression{raw: pattern}
	p := &parser{input: []rune(pattern)}
	start, steps, err := p.parse()
	if err != nil {
		expr.err = err
		return expr
	}
	expr.start = start
	expr.steps = steps
	return expr
}

type parser struct {
	input []rune
	pos   int
}

func (p *parser) parse() (NodePattern, []Step, error) {
	p.skipSpace()
	if p.eof() {
		return NodePattern{}, nil, p.errorf("empty pattern")
	}
	start, err := p.parsePattern()
	if err != nil {
		return NodePattern{}, nil, err
	}
	var steps []Step
	for {
		p.skipSpace()
		if p.eof() {
			return start, steps, nil
		}
		direction, edgeKind, err := p.parseConnector()
		if err != nil {
			return NodePattern{}, nil, err
		}
		p.skipSpace()
		if p.eof() {
			return NodePattern{}, nil, p.errorf("dangling arrow")
		}
		target, err := p.parsePattern()
		if err != nil {
			return NodePattern{}, nil, err
		}
		steps = append(steps, Step{Target: target, Direction: direction, EdgeKind: edgeKind})
	}
}

func (p *parser) parsePattern() (NodePattern, error) {
	pattern := NodePattern{}
	if p.peek() == '*' {
		p.next()
		if !p.eof() && p.peek() == '*' {
			p.next()
			pattern.Kind = PatternAnyPath
			pattern.MaxHops = -1
			if !p.eof() && p.peek() == '{' && p.nextIsDigit(p.pos+1) {
				minHops, maxHops, err := p.parseHopBounds()
				if err != nil {
					return pattern, err
				}
				pattern.MinHops = minHops
				pattern.MaxHops = maxHops
			}
		} else {
			pattern.Kind = PatternWildcard
		}
	} else {
		ident := p.scanIdent()
		if ident == "" {
			return pattern, p.errorf("expected node pattern")
		}
		if graph.IsDeclaredKind(graph.NodeKind(ident)) {
			pattern.Kind = PatternKindName
		} else {
			pattern.Kind = PatternLiteral
		}
		pattern.Value = ident
	}
	p.skipSpace()
	if !p.eof() && p.peek() == '{' {
		constraints, err := p.parseConstraints()
		if err != nil {
			return pattern, err
		}
		pattern.Constraints = constraints
	}
	return pattern, nil
}

// nextIsDigit reports whether the first non-space rune at or after i is
// a digit. It distinguishes "**{1,3}" hop bounds from a "**{key:v}"
// constraint block.
func (p *parser) nextIsDigit(i int) bool {
	for i < len(p.input) && unicode.IsSpace(p.input[i]) {
		i++
	}
	return i < len(p.input) && p.input[i] >= '0' && p.input[i] <= '9'
}

// parseHopBounds consumes "{min,max}" after "**".
func (p *parser) parseHopBounds() (int, int, error) {
	p.next()
	p.skipSpace()
	minHops, err := p.scanInt()
	if err != nil {
		return 0, 0, err
	}
	p.skipSpace()
	if p.eof() || p.peek() != ',' {
		return 0, 0, p.errorf("hop bounds need min and max")
	}
	p.next()
	p.skipSpace()
	maxHops, err := p.scanInt()
	if err != nil {
		return 0, 0, err
	}
	p.skipSpace()
	if p.eof() || p.peek() != '}' {
		return 0, 0, p.errorf("unterminated hop bounds")
	}
	p.next()
	if maxHops < minHops {
		return 0, 0, p.errorf("hop bounds out of order: %d > %d", minHops, maxHops)
	}
	return minHops, maxHops, nil
}

func (p *parser) parseConstraints() ([]Constraint, error) {
	p.next()
	var constraints []Constraint
	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated constraint block")
		}
		key := p.scanIdent()
		if key == "" {
			return nil, p.errorf("empty constraint key")
		}
		p.skipSpace()
		if p.eof() || p.peek() != ':' {
			return nil, p.errorf("expected ':' after constraint key")
		}
		p.next()
		p.skipSpace()
		value, err := p.parseConstraintValue()
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, Constraint{Key: key, Value: value})
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated constraint block")
		}
		switch p.peek() {
		case ',':
			p.next()
		case '}':
			p.next()
			return constraints, nil
		default:
			return nil, p.errorf("expected ',' or '}' in constraints")
		}
	}
}

// parseConstraintValue reads one literal. Quoted text stays a string;
// bare text becomes an int, float, or bool when it parses as one and
// falls back to the raw text otherwise.
func (p *parser) parseConstraintValue() (any, error) {
	if p.peek() == '"' || p.peek() == '\'' {
		return p.scanQuoted()
	}
	start := p.pos
	for !p.eof() && p.peek() != ',' && p.peek() != '}' {
		p.next()
	}
	raw := strings.TrimSpace(string(p.input[start:p.pos]))
	if raw == "" {
		return nil, &ParseError{Pos: start, Message: "empty constraint value"}
	}
	return literalValue(raw), nil
}

func literalValue(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

func (p *parser) parseConnector() (Direction, string, error) {
	switch p.peek() {
	case '-':
		p.next()
		if !p.eof() && p.peek() == '>' {
			p.next()
			return DirectionOutgoing, "", nil
		}
		if !p.eof() && p.peek() == '[' {
			edgeKind, err := p.scanEdgeKind()
			if err != nil {
				return DirectionNone, "", err
			}
			if p.eof() || p.peek() != '-' {
				return DirectionNone, "", p.errorf("expected '->' after edge kind")
			}
			p.next()
			if p.eof() || p.peek() != '>' {
				return DirectionNone, "", p.errorf("expected '->' after edge kind")
			}
			p.next()
			return DirectionOutgoing, edgeKind, nil
		}
		return DirectionNone, "", p.errorf("expected '>' or '[' after '-'")
	case '<':
		p.next()
		if p.eof() || p.peek() != '-' {
			return DirectionNone, "", p.errorf("expected '-' after '<'")
		}
		p.next()
		if !p.eof() && p.peek() == '>' {
			p.next()
			return DirectionBoth, "", nil
		}
		if !p.eof() && p.peek() == '[' {
			edgeKind, err := p.scanEdgeKind()
			if err != nil {
				return DirectionNone, "", err
			}
			if p.eof() || p.peek() != '-' {
				return DirectionNone, "", p.errorf("expected '-' after edge kind")
			}
			p.next()
			if !p.eof() && p.peek() == '>' {
				p.next()
				return DirectionBoth, edgeKind, nil
			}
			return DirectionIncoming, edgeKind, nil
		}
		return DirectionIncoming, "", nil
	default:
		return DirectionNone, "", p.errorf("expected connector")
	}
}

// scanEdgeKind consumes "[kind]".
func (p *parser) scanEdgeKind() (string, error) {
	p.next()
	p.skipSpace()
	edgeKind := p.scanIdent()
	if edgeKind == "" {
		return "", p.errorf("empty edge kind")
	}
	p.skipSpace()
	if p.eof() || p.peek() != ']' {
		return "", p.errorf("unterminated '['")
	}
	p.next()
	return edgeKind, nil
}

func (p *parser) scanIdent() string {
	start := p.pos
	for !p.eof() {
		r := p.peek()
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
			p.next()
			continue
		}
		break
	}
	return string(p.input[start:p.pos])
}

func (p *parser) scanInt() (int, error) {
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.next()
	}
	if p.pos == start {
		return 0, p.errorf("expected integer hop bound")
	}
	n, err := strconv.Atoi(string(p.input[start:p.pos]))
	if err != nil {
		return 0, &ParseError{Pos: start, Message: "invalid hop bound"}
	}
	return n, nil
}

// scanQuoted consumes a single- or double-quoted string, honoring
// backslash escapes for the quote, backslash, newline, and tab.
func (p *parser) scanQuoted() (string, error) {
	quote := p.next()
	var b strings.Builder
	for !p.eof() {
		r := p.next()
		if r == quote {
			return b.String(), nil
		}
		if r == '\\' && !p.eof() {
			switch esc := p.next(); esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(esc)
			}
			continue
		}
		b.WriteRune(r)
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) next() rune {
	r := p.input[p.pos]
	p.pos++
	return r
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Pos: p.pos, Message: fmt.Sprintf(format, args...)}
}
