package parser

import (
	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Window specification parsing: OVER clauses, PARTITION BY, ORDER BY, frame specs.
//
// Grammar:
//
//	window_spec   → identifier | "(" [identifier] [PARTITION BY expr_list] [ORDER BY order_list] [frame_spec] ")"
//	window_list   → identifier AS window_spec ("," identifier AS window_spec)*
//	frame_spec    → (ROWS|RANGE|GROUPS) frame_extent
//	frame_extent  → BETWEEN frame_bound AND frame_bound | frame_bound
//	frame_bound   → UNBOUNDED PRECEDING | UNBOUNDED FOLLOWING | CURRENT ROW | expr PRECEDING | expr FOLLOWING

// parseWindowSpec parses a window specification.
func (p *Parser) parseWindowSpec() *WindowSpec {
	spec := &WindowSpec{}

	// Named window reference
	if p.check(token.IDENT) {
		spec.Name = p.token.Literal
		p.nextToken()
		return spec
	}

	p.expect(token.LPAREN)

	// Base window name: OVER (w ORDER BY x)
	if p.check(token.IDENT) {
		spec.Name = p.token.Literal
		p.nextToken()
	}

	if p.match(token.PARTITION) {
		p.expect(token.BY)
		spec.PartitionBy = p.parseExpressionList()
	}

	if p.match(token.ORDER) {
		p.expect(token.BY)
		spec.OrderBy = p.parseOrderByList()
	}

	if p.check(token.ROWS) || p.check(token.RANGE) || p.check(token.GROUPS) {
		spec.Frame = p.parseFrameSpec()
	}

	p.expect(token.RPAREN)
	return spec
}

// parseWindowDefs parses the WINDOW clause list.
func (p *Parser) parseWindowDefs() []WindowDef {
	var defs []WindowDef
	for {
		def := WindowDef{Name: p.parseName("window name")}
		p.expect(token.AS)
		def.Spec = p.parseWindowSpec()
		defs = append(defs, def)
		if !p.match(token.COMMA) {
			break
		}
	}
	return defs
}

// parseFrameSpec parses a window frame specification.
func (p *Parser) parseFrameSpec() *FrameSpec {
	frame := &FrameSpec{}

	switch {
	case p.match(token.ROWS):
		frame.Type = FrameRows
	case p.match(token.RANGE):
		frame.Type = FrameRange
	case p.match(token.GROUPS):
		frame.Type = FrameGroups
	}

	if p.match(token.BETWEEN) {
		frame.Start = p.parseFrameBound()
		p.expect(token.AND)
		frame.End = p.parseFrameBound()
	} else {
		frame.Start = p.parseFrameBound()
	}

	return frame
}

// parseFrameBound parses a frame bound.
func (p *Parser) parseFrameBound() *FrameBound {
	bound := &FrameBound{}

	switch {
	case p.match(token.UNBOUNDED):
		if p.match(token.PRECEDING) {
			bound.Type = FrameUnboundedPreceding
		} else if p.match(token.FOLLOWING) {
			bound.Type = FrameUnboundedFollowing
		}

	case p.match(token.CURRENT):
		p.expect(token.ROW)
		bound.Type = FrameCurrentRow

	default:
		bound.Offset = p.parseExpressionWithPrecedence(precedenceAddition)
		if p.match(token.PRECEDING) {
			bound.Type = FrameExprPreceding
		} else if p.match(token.FOLLOWING) {
			bound.Type = FrameExprFollowing
		}
	}

	return bound
}
