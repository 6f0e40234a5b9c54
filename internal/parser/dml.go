package parser

import "github.com/lattice-db/lattice/internal/ast"

func (p *parser) parseInsert() (ast.Command, error) {
	p.advance() // "insert"
	if err := p.expectKw("into"); err != nil {
		return nil, err
	}
	table, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	var cols []string
	if p.isPunct("(") {
		p.advance()
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKw("values"); err != nil {
		return nil, err
	}
	var rows [][]ast.Expr
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var row []ast.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return &ast.InsertStmt{Table: table, Columns: cols, Rows: rows}, nil
}

func (p *parser) parseUpdate() (ast.Command, error) {
	p.advance() // "update"
	table, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("set"); err != nil {
		return nil, err
	}
	var assigns []ast.Assignment
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, ast.Assignment{Column: col, Value: val})
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	var where ast.Expr
	if p.isKw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	return &ast.UpdateStmt{Table: table, Assignments: assigns, Where: where}, nil
}

func (p *parser) parseDelete() (ast.Command, error) {
	p.advance() // "delete"
	var dropCols []string
	if p.isKw("columns") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			dropCols = append(dropCols, c)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKw("from"); err != nil {
		return nil, err
	}
	table, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	var where ast.Expr
	if p.isKw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	return &ast.DeleteStmt{Table: table, DropColumns: dropCols, Where: where}, nil
}

func (p *parser) parseCalculate() (ast.Command, error) {
	p.advance() // "calculate"
	sensor, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("as"); err != nil {
		return nil, err
	}
	q, err := p.parseSelectStmt()
	if err != nil {
		return nil, err
	}
	return &ast.CalculateStmt{Sensor: sensor, Query: q}, nil
}
