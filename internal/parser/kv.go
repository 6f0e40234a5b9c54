package parser

import (
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/lexer"
)

// parseWriteKey parses:
//
//	WRITE KEY <key> IN <db>.store.<ns> = <value> [TTL <duration>] [RESET ON ACCESS|NO RESET]
func (p *parser) parseWriteKey() (ast.Command, error) {
	p.advance() // "write"
	if err := p.expectKw("key"); err != nil {
		return nil, err
	}
	key, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("in"); err != nil {
		return nil, err
	}
	ns, err := p.parseIdentPath()
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
	stmt := &ast.WriteKeyStmt{Key: key, Namespace: ns, Value: val}

	if p.isKw("ttl") {
		p.advance()
		ms, err := p.parseWindowSpec()
		if err != nil {
			return nil, err
		}
		stmt.TTLMillis = &ms
	}
	if p.isKw("reset") {
		p.advance()
		if err := p.expectKw("on"); err != nil {
			return nil, err
		}
		if err := p.expectKw("access"); err != nil {
			return nil, err
		}
		stmt.ResetOnAccess = true
	} else if p.isKw("no") {
		p.advance()
		if err := p.expectKw("reset"); err != nil {
			return nil, err
		}
		stmt.ResetOnAccess = false
	}
	return stmt, nil
}

func (p *parser) parseReadKey() (ast.Command, error) {
	p.advance() // "read"
	if err := p.expectKw("key"); err != nil {
		return nil, err
	}
	key, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("in"); err != nil {
		return nil, err
	}
	ns, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	return &ast.ReadKeyStmt{Key: key, Namespace: ns}, nil
}

func (p *parser) parseList() (ast.Command, error) {
	p.advance() // "list"
	stmt := &ast.ListStmt{}
	if p.isKw("stores") {
		p.advance()
		stmt.Stores = true
		if err := p.expectKw("in"); err != nil {
			return nil, err
		}
		db, err := p.parseIdentPath()
		if err != nil {
			return nil, err
		}
		stmt.DB = db
		return stmt, nil
	}
	if err := p.expectKw("keys"); err != nil {
		return nil, err
	}
	if err := p.expectKw("in"); err != nil {
		return nil, err
	}
	ns, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	stmt.DB = ns
	if p.cur().Kind == lexer.String {
		t := p.advance()
		stmt.Prefix = t.Text
	}
	return stmt, nil
}

func (p *parser) parseDescribe() (ast.Command, error) {
	p.advance() // "describe"
	name, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	return &ast.DescribeStmt{Name: name}, nil
}

func (p *parser) parseShow() (ast.Command, error) {
	p.advance() // "show"
	t := p.cur()
	if t.Kind != lexer.Ident && t.Kind != lexer.Keyword {
		return nil, p.errf("expected an object type after SHOW")
	}
	p.advance()
	return &ast.ShowStmt{What: strings.ToLower(t.Raw)}, nil
}

func (p *parser) parseUse() (ast.Command, error) {
	p.advance() // "use"
	schema := false
	if p.isKw("schema") {
		schema = true
		p.advance()
	} else if err := p.expectKw("database"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &ast.UseStmt{Schema: schema, Name: name}, nil
}

func (p *parser) parseSet() (ast.Command, error) {
	p.advance() // "set"
	name, err := p.expectIdent()
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
	return &ast.SetStmt{Name: name, Value: val}, nil
}

// parseSliceStmt parses `SLICE <table> [start:stop]`, both bounds optional,
// reusing the expression grammar for each bound so negative indices and
// arithmetic work the same as in a string slice.
func (p *parser) parseSliceStmt() (ast.Command, error) {
	p.advance() // "slice"
	table, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	stmt := &ast.SliceStmt{Table: table}
	if !p.isPunct("[") {
		return stmt, nil
	}
	p.advance()
	if !p.isPunct(":") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Start = e
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if !p.isPunct("]") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Stop = e
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseUser() (ast.Command, error) {
	p.advance() // "user"
	var op ast.UserOp
	switch {
	case p.isKw("add"):
		op = ast.UserAdd
	case p.isKw("alter"):
		op = ast.UserAlter
	case p.isKw("delete"):
		op = ast.UserDelete
	default:
		return nil, p.errf("expected ADD, ALTER, or DELETE after USER")
	}
	p.advance()
	username, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &ast.UserStmt{Op: op, Username: username}
	for !p.atEOF() {
		switch {
		case p.isKw("with"):
			p.advance()
		case p.cur().Kind == lexer.Ident && strings.EqualFold(p.cur().Raw, "password"):
			p.advance()
			if p.cur().Kind == lexer.String {
				t := p.advance()
				stmt.Password = t.Text
			} else {
				return nil, p.errf("expected a quoted password")
			}
		case (p.cur().Kind == lexer.Ident || p.cur().Kind == lexer.Keyword) && strings.EqualFold(p.cur().Raw, "role"):
			p.advance()
			role, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			stmt.Roles = append(stmt.Roles, role)
		default:
			return stmt, nil
		}
	}
	return stmt, nil
}
