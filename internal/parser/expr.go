package parser

import (
	"strconv"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/lexer"
)

// parseExpr parses a full boolean/arithmetic expression using
// precedence-climbing with OR(1) < AND(2) < comparison(3).
func (p *parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKw("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: ast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKw("and") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: ast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.isKw("not") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: ast.OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return p.parseComparisonTail(left)
}

func (p *parser) parseComparisonTail(left ast.Expr) (ast.Expr, error) {
	if p.isKw("between") {
		p.advance()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("and"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BetweenExpr{Operand: left, Low: low, High: high}, nil
	}
	if p.isKw("not") && p.peekIsKw(1, "between") {
		p.advance()
		p.advance()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("and"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BetweenExpr{Operand: left, Low: low, High: high, Not: true}, nil
	}
	if p.isKw("in") || (p.isKw("not") && p.peekIsKw(1, "in")) {
		not := false
		if p.isKw("not") {
			not = true
			p.advance()
		}
		p.advance() // "in"
		return p.parseInTail(left, not)
	}
	if p.isKw("like") || (p.isKw("not") && p.peekIsKw(1, "like")) {
		not := false
		if p.isKw("not") {
			not = true
			p.advance()
		}
		p.advance() // "like"
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		op := ast.OpLike
		if not {
			op = ast.OpNotLike
		}
		return &ast.BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	if p.isKw("is") {
		p.advance()
		not := false
		if p.isKw("not") {
			not = true
			p.advance()
		}
		if err := p.expectKw("null"); err != nil {
			return nil, err
		}
		op := ast.OpIsNull
		if not {
			op = ast.OpIsNotNull
		}
		return &ast.UnaryExpr{Op: op, Operand: left}, nil
	}
	if op, ok := p.matchCompareOp(); ok {
		if p.isKw("any") || p.isKw("all") {
			kind := ast.QuantAny
			if p.isKw("all") {
				kind = ast.QuantAll
			}
			p.advance()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			sub, err := p.parseSelectStmt()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &ast.SubqueryExpr{Kind: kind, Op: op, Left: left, Query: sub}, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseInTail(left ast.Expr, not bool) (ast.Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if p.isKw("select") || p.isKw("with") {
		sub, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.InExpr{Operand: left, Sub: sub, Not: not}, nil
	}
	var list []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.InExpr{Operand: left, List: list, Not: not}, nil
}

func (p *parser) peekIsKw(offset int, kw string) bool {
	idx := p.pos + offset
	if idx >= len(p.toks) {
		return false
	}
	t := p.toks[idx]
	return t.Kind == lexer.Keyword && t.Text == kw
}

func (p *parser) matchCompareOp() (ast.BinOp, bool) {
	t := p.cur()
	if t.Kind != lexer.Punct {
		return 0, false
	}
	var op ast.BinOp
	switch t.Text {
	case "=":
		op = ast.OpEq
	case "==":
		op = ast.OpEq
	case "!=", "<>":
		op = ast.OpNeq
	case "<":
		op = ast.OpLt
	case "<=":
		op = ast.OpLte
	case ">":
		op = ast.OpGt
	case ">=":
		op = ast.OpGte
	default:
		return 0, false
	}
	p.advance()
	return op, true
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") || p.isPunct("||") {
		opTok := p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		var op ast.BinOp
		switch opTok.Text {
		case "+":
			op = ast.OpAdd
		case "-":
			op = ast.OpSub
		case "||":
			op = ast.OpConcat
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		opTok := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		var op ast.BinOp
		switch opTok.Text {
		case "*":
			op = ast.OpMul
		case "/":
			op = ast.OpDiv
		case "%":
			op = ast.OpMod
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.isPunct("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: ast.OpNeg, Operand: operand}, nil
	}
	return p.parseCastChain()
}

// parseCastChain parses postfix operators that bind tighter than
// arithmetic: ::type casts (chainable) and expr[slice].
func (p *parser) parseCastChain() (ast.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		if p.isPunct("::") {
			p.advance()
			typeName, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			e = &ast.CastExpr{Operand: e, Type: typeName}
			continue
		}
		if p.isPunct("[") {
			slice, err := p.parseSlice(e)
			if err != nil {
				return nil, err
			}
			e = slice
			continue
		}
		break
	}
	return e, nil
}

func (p *parser) parseTypeName() (string, error) {
	t := p.cur()
	if t.Kind != lexer.Ident && t.Kind != lexer.Keyword {
		return "", p.errf("expected type name")
	}
	p.advance()
	name := strings.ToLower(t.Raw)
	if p.isPunct("(") {
		p.advance()
		for !p.isPunct(")") {
			p.advance()
		}
		p.advance()
	}
	return name, nil
}

// parseSlice parses expr[start:stop:step] where each bound is either an
// integer expression or a quoted pattern, optionally negated for
// "exclude the match"
func (p *parser) parseSlice(operand ast.Expr) (ast.Expr, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	bounds := make([]ast.SliceBound, 0, 3)
	for i := 0; i < 3; i++ {
		if p.isPunct(":") || p.isPunct("]") {
			bounds = append(bounds, ast.SliceBound{})
		} else {
			b, err := p.parseSliceBound()
			if err != nil {
				return nil, err
			}
			bounds = append(bounds, b)
		}
		if p.isPunct(":") {
			p.advance()
			continue
		}
		break
	}
	for len(bounds) < 3 {
		bounds = append(bounds, ast.SliceBound{})
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	return &ast.SliceExpr{Operand: operand, Start: bounds[0], Stop: bounds[1], Step: bounds[2]}, nil
}

func (p *parser) parseSliceBound() (ast.SliceBound, error) {
	include := true
	if p.isPunct("-") && p.toks[p.pos+1].Kind == lexer.String {
		include = false
		p.advance()
	}
	if p.cur().Kind == lexer.String {
		t := p.advance()
		return ast.SliceBound{Pattern: t.Text, Include: include, Set: true}, nil
	}
	e, err := p.parseAdditive()
	if err != nil {
		return ast.SliceBound{}, err
	}
	return ast.SliceBound{Index: e, Set: true}, nil
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	// Aggregate and date-function names are not in the keyword table, so
	// they lex as identifiers; a following "(" selects the call form.
	callForm := (t.Kind == lexer.Ident || t.Kind == lexer.Keyword) && p.pos+1 < len(p.toks) &&
		p.toks[p.pos+1].Kind == lexer.Punct && p.toks[p.pos+1].Text == "("
	switch {
	case t.Kind == lexer.Number:
		p.advance()
		if strings.ContainsAny(t.Text, ".eE") {
			f, err := strconv.ParseFloat(t.Text, 64)
			if err != nil {
				return nil, p.errf("invalid numeric literal %q", t.Text)
			}
			return &ast.Literal{Value: f}, nil
		}
		i, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid numeric literal %q", t.Text)
		}
		return &ast.Literal{Value: i}, nil
	case t.Kind == lexer.String:
		if strings.HasPrefix(t.Raw, "f'") {
			p.advance()
			return parseFString(t.Text)
		}
		p.advance()
		return &ast.Literal{Value: t.Text}, nil
	case t.Kind == lexer.Placeholder:
		p.advance()
		return &ast.ColumnRef{Name: t.Text}, nil
	case p.isKw("true"):
		p.advance()
		return &ast.Literal{Value: true}, nil
	case p.isKw("false"):
		p.advance()
		return &ast.Literal{Value: false}, nil
	case p.isKw("null"):
		p.advance()
		return &ast.Literal{Value: nil}, nil
	case p.isKw("case"):
		return p.parseCase()
	case p.isKw("exists"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.SubqueryExpr{Kind: ast.QuantExists, Query: sub}, nil
	case p.isPunct("("):
		p.advance()
		if p.isKw("select") || p.isKw("with") {
			sub, err := p.parseSelectStmt()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &ast.SubqueryExpr{Kind: ast.QuantExists, Query: sub, Left: &ast.Literal{Value: true}}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case callForm && isDateFuncName(t.Text):
		return p.parseDateFunc(t.Text)
	case callForm && isAggName(t.Text):
		return p.parseAggOrWindow(t.Text)
	case t.Kind == lexer.Ident || t.Kind == lexer.Keyword:
		return p.parseIdentOrCall()
	default:
		return nil, p.errf("unexpected token in expression")
	}
}

func parseFString(body string) (ast.Expr, error) {
	var parts []ast.Expr
	var lit strings.Builder
	i := 0
	for i < len(body) {
		if body[i] == '{' {
			if lit.Len() > 0 {
				parts = append(parts, &ast.Literal{Value: lit.String()})
				lit.Reset()
			}
			depth := 1
			j := i + 1
			for j < len(body) && depth > 0 {
				if body[j] == '{' {
					depth++
				} else if body[j] == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
				j++
			}
			inner := body[i+1 : j]
			cmds, err := Parse("SELECT " + inner)
			if err != nil {
				return nil, err
			}
			sel := cmds[0].(*ast.SelectStmt)
			parts = append(parts, sel.Items[0].Expr)
			i = j + 1
			continue
		}
		lit.WriteByte(body[i])
		i++
	}
	if lit.Len() > 0 {
		parts = append(parts, &ast.Literal{Value: lit.String()})
	}
	return &ast.FStringExpr{Parts: parts}, nil
}

func (p *parser) parseCase() (ast.Expr, error) {
	p.advance() // "case"
	var branches []ast.CaseWhen
	for p.isKw("when") {
		p.advance()
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("then"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		branches = append(branches, ast.CaseWhen{When: when, Then: then})
	}
	var elseExpr ast.Expr
	if p.isKw("else") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elseExpr = e
	}
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return &ast.CaseExpr{Branches: branches, Else: elseExpr}, nil
}

func isDateFuncName(name string) bool {
	switch name {
	case "datepart", "dateadd", "datediff":
		return true
	}
	return false
}

func (p *parser) parseDateFunc(name string) (ast.Expr, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	partTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	switch name {
	case "datepart":
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.DateFuncExpr{Kind: ast.DatePart, Part: partTok, A: a}, nil
	case "dateadd":
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.DateFuncExpr{Kind: ast.DateAdd, Part: partTok, N: n, A: a}, nil
	default: // datediff
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		b, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.DateFuncExpr{Kind: ast.DateDiff, Part: partTok, A: a, B: b}, nil
	}
}

func isAggName(name string) bool {
	switch name {
	case "avg", "max", "min", "sum", "count", "first", "last", "stdev",
		"delta", "height", "gradient", "quantile", "array_agg":
		return true
	}
	return false
}

var aggKinds = map[string]ast.AggKind{
	"avg": ast.AggAvg, "max": ast.AggMax, "min": ast.AggMin, "sum": ast.AggSum,
	"count": ast.AggCount, "first": ast.AggFirst, "last": ast.AggLast,
	"stdev": ast.AggStdev, "delta": ast.AggDelta, "height": ast.AggHeight,
	"gradient": ast.AggGradient, "quantile": ast.AggQuantile, "array_agg": ast.AggArray,
}

func (p *parser) parseAggOrWindow(name string) (ast.Expr, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var arg ast.Expr
	var quantile ast.Expr
	if p.isPunct("*") {
		p.advance()
	} else if !p.isPunct(")") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arg = e
		if name == "quantile" && p.isPunct(",") {
			p.advance()
			q, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			quantile = q
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.AggExpr{Kind: aggKinds[name], Arg: arg, Quantile: quantile}, nil
}

// parseIdentOrCall parses a column reference (optionally table-qualified),
// a scalar function call, or ROW_NUMBER() OVER (...)
func (p *parser) parseIdentOrCall() (ast.Expr, error) {
	first, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.isPunct(".") {
		// lookahead: could be table.column
		save := p.pos
		p.advance()
		if p.cur().Kind == lexer.Ident {
			second, _ := p.expectIdent()
			if !p.isPunct("(") {
				return &ast.ColumnRef{Table: strings.ToLower(first), Name: second}, nil
			}
		}
		p.pos = save
	}
	if p.isPunct("(") {
		p.advance()
		var args []ast.Expr
		if !p.isPunct(")") {
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, e)
				if p.isPunct(",") {
					p.advance()
					continue
				}
				break
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		call := &ast.FuncCall{Name: strings.ToLower(first), Args: args}
		if p.isKw("over") {
			return p.parseOver(call)
		}
		return call, nil
	}
	return &ast.ColumnRef{Name: first}, nil
}

func (p *parser) parseOver(call *ast.FuncCall) (ast.Expr, error) {
	p.advance() // "over"
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	w := &ast.WindowExpr{Func: call.Name}
	if p.isKw("partition") {
		p.advance()
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			w.PartitionBy = append(w.PartitionBy, e)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKw("order") {
		p.advance()
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		w.OrderBy = items
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return w, nil
}

func (p *parser) parseOrderItems() ([]ast.OrderItem, error) {
	var items []ast.OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.isKw("asc") {
			p.advance()
		} else if p.isKw("desc") {
			desc = true
			p.advance()
		}
		items = append(items, ast.OrderItem{Expr: e, Desc: desc})
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}
