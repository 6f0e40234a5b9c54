// Package parser implements a recursive-descent parser for the query
// dialect: split the source into statements first, then parse each one with
// a hand-written descent parser sharing the lexer's keyword table, since the
// dialect has no existing yacc grammar to port.
package parser

import (
	"fmt"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/lexer"
)

// Error is a parse-time error carrying the position the lexer error does,
// plus the statement text for diagnostics.
type Error struct {
	Pos     int
	Message string
	SQL     string
}

func (e *Error) Error() string { return fmt.Sprintf("parse error: %s", e.Message) }

// Parse splits src on top-level ';' boundaries (respecting parens, brackets
// and string literals via the token stream) and parses each statement,
// returning one ast.Command per statement and retaining the original SQL
// text on each for diagnostics.
func Parse(src string) ([]ast.Command, error) {
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		return nil, err
	}

	var stmts [][]lexer.Token
	var cur []lexer.Token
	depth := 0
	for _, t := range toks {
		if t.Kind == lexer.EOF {
			break
		}
		if t.Kind == lexer.Punct {
			switch t.Text {
			case "(", "[":
				depth++
			case ")", "]":
				depth--
			case ";":
				if depth == 0 {
					if len(cur) > 0 {
						stmts = append(stmts, cur)
					}
					cur = nil
					continue
				}
			}
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		stmts = append(stmts, cur)
	}

	out := make([]ast.Command, 0, len(stmts))
	for _, s := range stmts {
		raw := rawText(s)
		s = append(s, lexer.Token{Kind: lexer.EOF})
		p := &parser{toks: s}
		cmd, err := p.parseStatement()
		if err != nil {
			return out, err
		}
		setRawSQL(cmd, raw)
		out = append(out, cmd)
	}
	return out, nil
}

// rawText reconstructs an approximate source rendering of toks by joining
// each token's original spelling with single spaces. It is not a byte-exact
// copy of the input (whitespace is not preserved) but round-trips through
// the lexer/parser identically, which is all RawSQL is used for: view
// re-parsing and diagnostics.
func rawText(toks []lexer.Token) string {
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.Kind == lexer.EOF {
			continue
		}
		parts = append(parts, t.Raw)
	}
	return strings.Join(parts, " ")
}

// setRawSQL stores the reconstructed source text on whichever RawSQL field
// cmd's concrete type carries, for diagnostics and (for CREATE VIEW) so the
// catalog can persist a view's defining query.
func setRawSQL(cmd ast.Command, raw string) {
	switch n := cmd.(type) {
	case *ast.SelectStmt:
		n.RawSQL = raw
	case *ast.InsertStmt:
		n.RawSQL = raw
	case *ast.UpdateStmt:
		n.RawSQL = raw
	case *ast.DeleteStmt:
		n.RawSQL = raw
	case *ast.CalculateStmt:
		n.RawSQL = raw
	case *ast.CreateStmt:
		n.RawSQL = raw
	case *ast.DropStmt:
		n.RawSQL = raw
	case *ast.RenameStmt:
		n.RawSQL = raw
	case *ast.WriteKeyStmt:
		n.RawSQL = raw
	case *ast.ReadKeyStmt:
		n.RawSQL = raw
	case *ast.DropKeyStmt:
		n.RawSQL = raw
	case *ast.RenameKeyStmt:
		n.RawSQL = raw
	case *ast.ListStmt:
		n.RawSQL = raw
	case *ast.DescribeStmt:
		n.RawSQL = raw
	case *ast.ShowStmt:
		n.RawSQL = raw
	case *ast.UseStmt:
		n.RawSQL = raw
	case *ast.SetStmt:
		n.RawSQL = raw
	case *ast.SliceStmt:
		n.RawSQL = raw
	case *ast.UserStmt:
		n.RawSQL = raw
	}
}

// ParseOne parses exactly one statement, used by pgwire's extended-protocol
// Parse handling where the caller already knows it has one statement's tokens.
func ParseOne(src string) (ast.Command, error) {
	cmds, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if len(cmds) != 1 {
		return nil, fmt.Errorf("parser: expected exactly one statement, got %d", len(cmds))
	}
	return cmds[0], nil
}

type parser struct {
	toks []lexer.Token
	pos  int
}

func (p *parser) cur() lexer.Token { return p.toks[p.pos] }
func (p *parser) atEOF() bool      { return p.cur().Kind == lexer.EOF }
func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errf(format string, args ...any) error {
	t := p.cur()
	return &Error{Pos: t.Pos, Message: fmt.Sprintf("%s (near %q, line %d col %d)", fmt.Sprintf(format, args...), t.Raw, t.Line, t.Column)}
}

// isKw reports whether the current token is the keyword kw (case-folded).
func (p *parser) isKw(kw string) bool {
	t := p.cur()
	return t.Kind == lexer.Keyword && t.Text == kw
}

func (p *parser) isPunct(s string) bool {
	t := p.cur()
	return t.Kind == lexer.Punct && t.Text == s
}

func (p *parser) expectKw(kw string) error {
	if !p.isKw(kw) {
		return p.errf("expected keyword %q", kw)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errf("expected %q", s)
	}
	p.advance()
	return nil
}

// expectIdent accepts a plain identifier or a keyword spelled unquoted in
// identifier position (e.g. the literal "store" segment of a
// db.store.<name> namespace path, or "key" used as a column name) — the
// keyword table blocks a bare keyword from starting a statement, not from
// naming something once a statement is already underway.
func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.Kind != lexer.Ident && t.Kind != lexer.Keyword {
		return "", p.errf("expected identifier")
	}
	p.advance()
	if t.Kind == lexer.Ident && strings.HasPrefix(t.Raw, `"`) {
		return t.Text, nil // quoted: the lexer has already removed the quotes
	}
	return t.Raw, nil
}

// parseIdentPath parses a possibly dotted db.schema.table / db.store.name
// reference into an ast.Ident, normalizing (lowercase ASCII,
// strip quoting — quoting already stripped by the lexer).
func (p *parser) parseIdentPath() (ast.Ident, error) {
	first, err := p.expectIdent()
	if err != nil {
		return ast.Ident{}, err
	}
	parts := []string{normalizeIdent(first)}
	raw := first
	for p.isPunct(".") {
		p.advance()
		next, err := p.expectIdent()
		if err != nil {
			return ast.Ident{}, err
		}
		parts = append(parts, normalizeIdent(next))
		raw += "." + next
	}
	return ast.Ident{Parts: parts, Raw: raw}, nil
}

func normalizeIdent(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func (p *parser) parseStatement() (ast.Command, error) {
	t := p.cur()
	if t.Kind != lexer.Keyword {
		return nil, p.errf("expected a statement keyword")
	}
	switch t.Text {
	case "select", "with":
		return p.parseSelectCommand()
	case "insert":
		return p.parseInsert()
	case "update":
		return p.parseUpdate()
	case "delete":
		return p.parseDelete()
	case "calculate":
		return p.parseCalculate()
	case "create":
		return p.parseCreate()
	case "drop":
		return p.parseDropOrDropKey()
	case "rename":
		return p.parseRenameOrRenameKey()
	case "write":
		return p.parseWriteKey()
	case "read":
		return p.parseReadKey()
	case "list":
		return p.parseList()
	case "describe":
		return p.parseDescribe()
	case "show":
		return p.parseShow()
	case "use":
		return p.parseUse()
	case "set":
		return p.parseSet()
	case "slice":
		return p.parseSliceStmt()
	case "user":
		return p.parseUser()
	default:
		return nil, p.errf("unknown statement keyword %q", t.Text)
	}
}
