package parser

import (
	"strconv"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/lexer"
)

func objKindFromKeyword(p *parser) (ast.ObjectKind, error) {
	switch {
	case p.isKw("database"):
		p.advance()
		return ast.ObjDatabase, nil
	case p.isKw("schema"):
		p.advance()
		return ast.ObjSchema, nil
	case p.isKw("table"):
		p.advance()
		return ast.ObjTable, nil
	case p.isKw("timetable"):
		p.advance()
		return ast.ObjTimeTable, nil
	case p.isKw("view"):
		p.advance()
		return ast.ObjView, nil
	case p.isKw("store"):
		p.advance()
		return ast.ObjStore, nil
	case p.isKw("vector"):
		p.advance()
		if err := p.expectKw("index"); err != nil {
			return 0, err
		}
		return ast.ObjVectorIndex, nil
	case p.isKw("graph"):
		p.advance()
		return ast.ObjGraph, nil
	case p.isKw("script"):
		p.advance()
		return ast.ObjScript, nil
	default:
		return 0, p.errf("expected an object kind (DATABASE|SCHEMA|TABLE|TIMETABLE|VIEW|STORE|VECTOR INDEX|GRAPH|SCRIPT)")
	}
}

func (p *parser) parseCreate() (ast.Command, error) {
	p.advance() // "create"
	kind, err := objKindFromKeyword(p)
	if err != nil {
		return nil, err
	}
	ifNotExists := false
	if p.isKw("if") {
		p.advance()
		if err := p.expectKw("not"); err != nil {
			return nil, err
		}
		if err := p.expectIdentKeywordExist(); err != nil {
			return nil, err
		}
		ifNotExists = true
	}
	name, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	stmt := &ast.CreateStmt{Kind: kind, Name: name, IfNotExists: ifNotExists}

	switch kind {
	case ast.ObjTable, ast.ObjTimeTable:
		if err := p.parseTableBody(stmt); err != nil {
			return nil, err
		}
	case ast.ObjView:
		if err := p.expectKw("as"); err != nil {
			return nil, err
		}
		start := p.pos
		q, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		q.RawSQL = rawText(p.toks[start:p.pos])
		stmt.ViewQuery = q
	case ast.ObjVectorIndex:
		if err := p.parseVectorIndexBody(stmt); err != nil {
			return nil, err
		}
	case ast.ObjGraph:
		if err := p.parseGraphBody(stmt); err != nil {
			return nil, err
		}
	case ast.ObjScript:
		if p.isKw("as") {
			p.advance()
		}
		var b strings.Builder
		for !p.atEOF() {
			t := p.advance()
			b.WriteString(t.Raw)
			b.WriteString(" ")
		}
		stmt.ScriptBody = strings.TrimSpace(b.String())
	}
	return stmt, nil
}

// expectIdentKeywordExist consumes the word "exist" or "exists" in
// "IF NOT EXIST[S]"; both spellings are in the keyword table so EXISTS can
// also head a subquery predicate.
func (p *parser) expectIdentKeywordExist() error {
	t := p.cur()
	if (t.Kind == lexer.Ident || t.Kind == lexer.Keyword) && (strings.EqualFold(t.Raw, "exist") || strings.EqualFold(t.Raw, "exists")) {
		p.advance()
		return nil
	}
	return p.errf("expected EXIST[S]")
}

func (p *parser) parseTableBody(stmt *ast.CreateStmt) error {
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for {
		if p.isKw("primary") {
			p.advance()
			if err := p.expectKw("key"); err != nil {
				return err
			}
			if err := p.expectPunct("("); err != nil {
				return err
			}
			for {
				c, err := p.expectIdent()
				if err != nil {
					return err
				}
				stmt.PrimaryKey = append(stmt.PrimaryKey, c)
				if p.isPunct(",") {
					p.advance()
					continue
				}
				break
			}
			if err := p.expectPunct(")"); err != nil {
				return err
			}
		} else {
			col, err := p.parseColumnSpec()
			if err != nil {
				return err
			}
			stmt.Columns = append(stmt.Columns, col)
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return err
	}
	if p.isKw("partitions") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return err
		}
		for {
			c, err := p.expectIdent()
			if err != nil {
				return err
			}
			stmt.Partitions = append(stmt.Partitions, c)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseColumnSpec() (ast.ColumnSpec, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ast.ColumnSpec{}, err
	}
	typeName, err := p.parseTypeNameWithDims()
	if err != nil {
		return ast.ColumnSpec{}, err
	}
	spec := ast.ColumnSpec{Name: name, TypeName: typeName.name, Length: typeName.length,
		Precision: typeName.precision, Scale: typeName.scale, Nullable: true, VectorDim: typeName.vecDim}
	if p.isKw("not") {
		p.advance()
		if err := p.expectKw("null"); err != nil {
			return ast.ColumnSpec{}, err
		}
		spec.Nullable = false
	}
	return spec, nil
}

type typeNameDims struct {
	name      string
	length    int
	precision int
	scale     int
	vecDim    int
}

func (p *parser) parseTypeNameWithDims() (typeNameDims, error) {
	t := p.cur()
	if t.Kind != lexer.Ident && t.Kind != lexer.Keyword {
		return typeNameDims{}, p.errf("expected a type name")
	}
	p.advance()
	out := typeNameDims{name: strings.ToLower(t.Raw)}
	if p.isPunct("(") {
		p.advance()
		n1, err := p.expectNumber()
		if err != nil {
			return typeNameDims{}, err
		}
		if out.name == "vector" {
			out.vecDim = int(n1)
		} else {
			out.length = int(n1)
			out.precision = int(n1)
		}
		if p.isPunct(",") {
			p.advance()
			n2, err := p.expectNumber()
			if err != nil {
				return typeNameDims{}, err
			}
			out.scale = int(n2)
		}
		if err := p.expectPunct(")"); err != nil {
			return typeNameDims{}, err
		}
	}
	return out, nil
}

func (p *parser) expectNumber() (int64, error) {
	t := p.cur()
	if t.Kind != lexer.Number {
		return 0, p.errf("expected a number")
	}
	p.advance()
	return strconv.ParseInt(t.Text, 10, 64)
}

func (p *parser) parseVectorIndexBody(stmt *ast.CreateStmt) error {
	if err := p.expectKw("on"); err != nil {
		return err
	}
	onTable, err := p.parseIdentPath()
	if err != nil {
		return err
	}
	stmt.VectorOn = &onTable
	if err := p.expectPunct("("); err != nil {
		return err
	}
	col, err := p.expectIdent()
	if err != nil {
		return err
	}
	stmt.VectorCol = col
	if err := p.expectPunct(")"); err != nil {
		return err
	}
	stmt.VectorAlgo = "hnsw"
	stmt.VectorMetric = "l2"
	stmt.VectorM = 16
	stmt.VectorEfBuild = 100
	if p.isKw("using") {
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		stmt.VectorAlgo = strings.ToLower(name)
	}
	if p.isPunct("(") {
		p.advance()
		for !p.isPunct(")") {
			key, err := p.expectIdent()
			if err != nil {
				return err
			}
			if err := p.expectPunct("="); err != nil {
				return err
			}
			switch strings.ToLower(key) {
			case "metric":
				v, err := p.expectIdent()
				if err != nil {
					return err
				}
				stmt.VectorMetric = strings.ToLower(v)
			case "m":
				n, err := p.expectNumber()
				if err != nil {
					return err
				}
				stmt.VectorM = int(n)
			case "ef_build":
				n, err := p.expectNumber()
				if err != nil {
					return err
				}
				stmt.VectorEfBuild = int(n)
			default:
				return p.errf("unknown vector index option %q", key)
			}
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseGraphBody(stmt *ast.CreateStmt) error {
	spec := &ast.GraphSpec{}
	if err := p.expectKw("nodes"); err != nil {
		return err
	}
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for {
		label, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expectKw("key"); err != nil {
			return err
		}
		if err := p.expectPunct("("); err != nil {
			return err
		}
		keyCol, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
		spec.Nodes = append(spec.Nodes, ast.GraphNodeSpec{Label: label, KeyCol: keyCol})
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return err
	}
	if err := p.expectKw("edges"); err != nil {
		return err
	}
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for {
		typ, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expectKw("from"); err != nil {
			return err
		}
		from, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expectKw("to"); err != nil {
			return err
		}
		to, err := p.expectIdent()
		if err != nil {
			return err
		}
		spec.Edges = append(spec.Edges, ast.GraphEdgeSpec{Type: typ, From: from, To: to})
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return err
	}
	if err := p.expectKw("using"); err != nil {
		return err
	}
	if err := p.expectKw("tables"); err != nil {
		return err
	}
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for {
		key, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
		val, err := p.expectIdent()
		if err != nil {
			return err
		}
		switch strings.ToLower(key) {
		case "nodes":
			spec.NodesTable = val
		case "edges":
			spec.EdgesTable = val
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return err
	}
	stmt.GraphSpec = spec
	return nil
}

func (p *parser) parseDropOrDropKey() (ast.Command, error) {
	p.advance() // "drop"
	if p.isKw("key") {
		p.advance()
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ifExists := false
		if p.isKw("if") {
			p.advance()
			if err := p.expectIdentKeywordExist(); err != nil {
				return nil, err
			}
			ifExists = true
		}
		if err := p.expectKw("in"); err != nil {
			return nil, err
		}
		ns, err := p.parseIdentPath()
		if err != nil {
			return nil, err
		}
		return &ast.DropKeyStmt{Key: key, Namespace: ns, IfExists: ifExists}, nil
	}
	kind, err := objKindFromKeyword(p)
	if err != nil {
		return nil, err
	}
	ifExists := false
	if p.isKw("if") {
		p.advance()
		if err := p.expectIdentKeywordExist(); err != nil {
			return nil, err
		}
		ifExists = true
	}
	name, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	return &ast.DropStmt{Kind: kind, Name: name, IfExists: ifExists}, nil
}

func (p *parser) parseRenameOrRenameKey() (ast.Command, error) {
	p.advance() // "rename"
	if p.isKw("key") {
		p.advance()
		from, err := p.expectIdent()
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
		if err := p.expectKw("to"); err != nil {
			return nil, err
		}
		to, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ast.RenameKeyStmt{From: from, To: to, Namespace: ns}, nil
	}
	kind, err := objKindFromKeyword(p)
	if err != nil {
		return nil, err
	}
	from, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("to"); err != nil {
		return nil, err
	}
	to, err := p.parseIdentPath()
	if err != nil {
		return nil, err
	}
	return &ast.RenameStmt{Kind: kind, From: from, To: to}, nil
}
