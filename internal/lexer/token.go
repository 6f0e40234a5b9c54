// Package lexer scans SQL source into a token stream. Structurally grounded
// on a classic hand-rolled Tokenizer (a stateful scanner over a
// []byte buffer with a keyword lookup map), but hand-written for this
// dialect rather than yacc-generated, since the dialect (f-strings, Python
// slices, BY windows, multi-model DDL) has no existing grammar to port.
package lexer

import "fmt"

type Kind int

const (
	EOF Kind = iota
	Ident
	Keyword
	Number
	String
	Placeholder // $1, $2, ...
	Punct       // single or multi-char punctuation/operator
	Comment
)

type Token struct {
	Kind   Kind
	Text   string // normalized text (keywords and unquoted idents lower-cased, quoted idents as spelled)
	Raw    string // original spelling
	Pos    int    // byte offset into the source
	Line   int
	Column int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.kindName(), t.Text, t.Pos)
}

func (t Token) kindName() string {
	switch t.Kind {
	case EOF:
		return "EOF"
	case Ident:
		return "IDENT"
	case Keyword:
		return "KEYWORD"
	case Number:
		return "NUMBER"
	case String:
		return "STRING"
	case Placeholder:
		return "PLACEHOLDER"
	case Punct:
		return "PUNCT"
	case Comment:
		return "COMMENT"
	default:
		return "?"
	}
}

// keywords is the reserved-word table and the single source of truth for
// reserved vs plain identifiers: anything not in this map is quotable.
var keywords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"having": true, "order": true, "limit": true, "rolling": true,
	"with": true, "union": true, "all": true, "into": true, "append": true,
	"replace": true, "insert": true, "update": true, "delete": true,
	"columns": true, "calculate": true, "as": true, "create": true,
	"drop": true, "rename": true, "database": true, "schema": true,
	"table": true, "timetable": true, "view": true, "store": true,
	"vector": true, "index": true, "graph": true, "script": true,
	"write": true, "read": true, "key": true, "list": true, "stores": true,
	"keys": true, "describe": true, "show": true, "use": true, "set": true,
	"slice": true, "user": true, "add": true, "alter": true, "values": true,
	"and": true, "or": true, "not": true, "like": true, "is": true,
	"null": true, "between": true, "in": true, "any": true, "exists": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"true": true, "false": true, "asc": true, "desc": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true, "on": true,
	"ttl": true, "reset": true, "access": true, "no": true, "using": true,
	"ann": true, "exact": true, "nodes": true, "edges": true, "using_tables": true,
	"tables": true, "to": true, "partitions": true, "primary": true,
	"notnull": true, "over": true, "partition": true, "row_number": true,
	"distinct": true, "if": true, "exist": true, "role": true, "roles": true,
}

func IsKeyword(lower string) bool { return keywords[lower] }

// WindowUnitMillis maps a BY window unit suffix to milliseconds:
// {ms,s,m,h,d}.
var WindowUnitMillis = map[string]int64{
	"ms": 1,
	"s":  1000,
	"m":  60_000,
	"h":  3_600_000,
	"d":  86_400_000,
}
