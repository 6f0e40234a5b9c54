package parser

import (
	"strconv"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/lexer"
)

func (p *parser) parseSelectCommand() (ast.Command, error) {
	return p.parseSelectStmt()
}

func (p *parser) parseSelectStmt() (*ast.SelectStmt, error) {
	stmt := &ast.SelectStmt{}

	if p.isKw("with") {
		p.advance()
		for {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := p.expectKw("as"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			q, err := p.parseSelectStmt()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			stmt.With = append(stmt.With, ast.CTE{Name: strings.ToLower(name), Query: q})
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if err := p.expectKw("select"); err != nil {
		return nil, err
	}
	if p.isKw("distinct") {
		p.advance() // accepted, dedup handled like bare UNION at the sink if ever needed
	}

	items, err := p.parseSelectItems()
	if err != nil {
		return nil, err
	}
	stmt.Items = items

	if p.isKw("from") {
		p.advance()
		from, err := p.parseFromClause()
		if err != nil {
			return nil, err
		}
		stmt.From = from
	}

	if p.isKw("where") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = e
	}

	if p.isKw("by") {
		p.advance()
		ms, err := p.parseWindowSpec()
		if err != nil {
			return nil, err
		}
		stmt.Window = &ms
	}

	if p.isKw("group") {
		p.advance()
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		for {
			if p.cur().Kind == lexer.Ident && strings.EqualFold(p.cur().Raw, "__ALL__") {
				p.advance()
				stmt.GroupByAll = true
			} else {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				runLength := false
				if p.isKw("notnull") {
					p.advance()
					runLength = true
				}
				stmt.GroupBy = append(stmt.GroupBy, e)
				stmt.GroupByRunLength = append(stmt.GroupByRunLength, runLength)
			}
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.isKw("having") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = e
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
		stmt.OrderBy = items
		if p.isKw("using") {
			p.advance()
			if p.isKw("ann") {
				stmt.OrderHint = ast.HintANN
				p.advance()
			} else if p.isKw("exact") {
				stmt.OrderHint = ast.HintEXACT
				p.advance()
			} else {
				return nil, p.errf("expected ANN or EXACT after USING")
			}
		}
	}

	if p.isKw("rolling") {
		p.advance()
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		ms, err := p.parseWindowSpec()
		if err != nil {
			return nil, err
		}
		stmt.Rolling = &ms
	}

	if p.isKw("limit") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Limit = e
	}

	if p.isKw("into") {
		p.advance()
		target, err := p.parseIdentPath()
		if err != nil {
			return nil, err
		}
		stmt.Into = &target
		mode := "APPEND"
		if p.isKw("replace") {
			mode = "REPLACE"
			p.advance()
		} else if p.isKw("append") {
			p.advance()
		}
		stmt.IntoMode = mode
	}

	if p.isKw("union") {
		p.advance()
		all := false
		if p.isKw("all") {
			all = true
			p.advance()
		}
		next, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		stmt.Union = next
		stmt.UnionAll = all
	}

	return stmt, nil
}

func (p *parser) parseSelectItems() ([]ast.SelectItem, error) {
	var items []ast.SelectItem
	for {
		if p.isPunct("*") {
			p.advance()
			items = append(items, ast.SelectItem{Expr: &ast.ColumnRef{Name: "*"}})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			alias := ""
			if p.isKw("as") {
				p.advance()
				a, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				alias = a
			} else if p.cur().Kind == lexer.Ident {
				// bare alias, e.g. "SELECT a b FROM t"
				a, _ := p.expectIdent()
				alias = a
			}
			items = append(items, ast.SelectItem{Expr: e, Alias: alias})
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

// parseWindowSpec parses "<n><unit>" as a single identifier/number pair
// (e.g. "1s", "500ms") into milliseconds.
func (p *parser) parseWindowSpec() (int64, error) {
	t := p.cur()
	var numText, unit string
	if t.Kind == lexer.Number {
		p.advance()
		numText = t.Text
		u := p.cur()
		if u.Kind != lexer.Ident {
			return 0, p.errf("expected a window unit (ms,s,m,h,d)")
		}
		p.advance()
		unit = u.Raw
	} else if t.Kind == lexer.Ident {
		// tokenizer may have fused "1s" into ident if it starts with a letter;
		// typical case is digits then letters, split here defensively.
		raw := t.Raw
		i := 0
		for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, p.errf("expected a window spec like \"1s\"")
		}
		p.advance()
		numText = raw[:i]
		unit = raw[i:]
	} else {
		return 0, p.errf("expected a window spec like \"1s\"")
	}
	n, err := strconv.ParseInt(numText, 10, 64)
	if err != nil {
		return 0, p.errf("invalid window magnitude %q", numText)
	}
	if n < 0 {
		return 0, p.errf("negative window duration is not allowed")
	}
	mult, ok := lexer.WindowUnitMillis[strings.ToLower(unit)]
	if !ok {
		return 0, p.errf("unknown window unit %q", unit)
	}
	return n * mult, nil
}

func (p *parser) parseFromClause() (*ast.FromItem, error) {
	first, err := p.parseFromItem()
	if err != nil {
		return nil, err
	}
	head := first
	tail := first
	for {
		jt, ok := p.matchJoinKeyword()
		if !ok {
			break
		}
		p.advance()
		if p.isKw("join") {
			p.advance()
		}
		next, err := p.parseFromItem()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("on"); err != nil {
			return nil, err
		}
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		next.Join = &jt
		next.JoinCond = cond
		tail.Next = next
		tail = next
	}
	return head, nil
}

func (p *parser) matchJoinKeyword() (ast.JoinType, bool) {
	switch {
	case p.isKw("join"):
		return ast.JoinInner, true
	case p.isKw("inner"):
		return ast.JoinInner, true
	case p.isKw("left"):
		return ast.JoinLeft, true
	case p.isKw("right"):
		return ast.JoinRight, true
	case p.isKw("full"):
		return ast.JoinFull, true
	default:
		return 0, false
	}
}

func (p *parser) parseFromItem() (*ast.FromItem, error) {
	item := &ast.FromItem{}
	switch {
	case p.isPunct("("):
		p.advance()
		sub, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		item.Subquery = sub
	default:
		name, err := p.parseIdentPath()
		if err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			// table-valued function, e.g. graph_neighbors('g', 0, 'E', 2)
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
			item.TVF = &ast.FuncCall{Name: name.Last(), Args: args}
		} else {
			item.Table = &name
		}
	}
	if p.isKw("as") {
		p.advance()
		a, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		item.Alias = a
	} else if p.cur().Kind == lexer.Ident {
		a, _ := p.expectIdent()
		item.Alias = a
	}
	return item, nil
}
