package ast

import "github.com/lattice-db/lattice/internal/types"

// Expr is the closed variant tree for both arithmetic and predicate
// expressions — a single tree type, since the dialect's boolean and
// arithmetic expressions freely nest into each other (CASE branches hold
// predicates, predicates hold arithmetic, arithmetic can hold a boolean
// cast result, and so on).
type Expr interface{ exprNode() }

type Literal struct{ Value any } // int64, float64, string, bool, nil (NULL)

func (*Literal) exprNode() {}

// ValueExpr wraps an already-typed runtime Value as a leaf expression. The
// parser never produces one; the engine's grouped-query evaluator uses it
// to splice a precomputed aggregate or window-function result back into an
// expression tree built from Literal/ColumnRef/etc, without losing the
// value's exact Kind (a plain Literal only carries the four Go primitive
// kinds and would lose e.g. a vector).
type ValueExpr struct{ V types.Value }

func (*ValueExpr) exprNode() {}

type ColumnRef struct {
	Table string // optional qualifier
	Name  string
}

func (*ColumnRef) exprNode() {}

type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpLike
	OpNotLike
	OpAnd
	OpOr
	OpConcat
)

type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
	OpIsNull
	OpIsNotNull
)

type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

type BetweenExpr struct {
	Operand Expr
	Low     Expr
	High    Expr
	Not     bool
}

func (*BetweenExpr) exprNode() {}

type InExpr struct {
	Operand Expr
	List    []Expr
	Sub     *SelectStmt
	Not     bool
}

func (*InExpr) exprNode() {}

type QuantifiedKind int

const (
	QuantAny QuantifiedKind = iota
	QuantAll
	QuantExists
)

type SubqueryExpr struct {
	Kind  QuantifiedKind
	Op    BinOp // comparison op for ANY/ALL, unused for EXISTS
	Left  Expr  // nil for EXISTS
	Query *SelectStmt
}

func (*SubqueryExpr) exprNode() {}

type CastExpr struct {
	Operand Expr
	Type    string
}

func (*CastExpr) exprNode() {}

type CaseWhen struct {
	When Expr
	Then Expr
}

type CaseExpr struct {
	Branches []CaseWhen
	Else     Expr
}

func (*CaseExpr) exprNode() {}

// SliceExpr is the Python-style string slice expr[start:stop:step], with
// either integer or quoted-pattern bounds.
type SliceBound struct {
	Index   Expr   // integer bound, nil if Pattern set
	Pattern string // quoted pattern bound, "" if Index set
	Include bool   // for pattern bounds: true unless "-'pat'"
	Set     bool
}

type SliceExpr struct {
	Operand Expr
	Start   SliceBound
	Stop    SliceBound
	Step    SliceBound
}

func (*SliceExpr) exprNode() {}

// FStringExpr is f'...{expr}...' desugared to concatenation at eval time.
type FStringExpr struct {
	Parts []Expr // alternating Literal(string) and embedded Expr
}

func (*FStringExpr) exprNode() {}

type DateFuncKind int

const (
	DatePart DateFuncKind = iota
	DateAdd
	DateDiff
)

type DateFuncExpr struct {
	Kind DateFuncKind
	Part string
	N    Expr // DATEADD only
	A    Expr
	B    Expr // DATEDIFF only; DATEPART/DATEADD use A as the sole operand
}

func (*DateFuncExpr) exprNode() {}

type AggKind int

const (
	AggAvg AggKind = iota
	AggMax
	AggMin
	AggSum
	AggCount
	AggFirst
	AggLast
	AggStdev
	AggDelta
	AggHeight
	AggGradient
	AggQuantile
	AggArray
)

type AggExpr struct {
	Kind     AggKind
	Arg      Expr // nil for COUNT(*)
	Quantile Expr // AggQuantile only, percentile 0..100
}

func (*AggExpr) exprNode() {}

type WindowExpr struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
	// Only ROW_NUMBER() is specified today; kept as a name for
	// forward-compatible dispatch
	Func string
}

func (*WindowExpr) exprNode() {}

type FuncCall struct {
	Name string
	Args []Expr
}

func (*FuncCall) exprNode() {}
