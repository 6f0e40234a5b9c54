package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeBasics(t *testing.T) {
	toks, err := New("SELECT c1, 'it''s', 3.14 FROM t").Tokenize()
	require.NoError(t, err)
	assert.Equal(t,
		[]Kind{Keyword, Ident, Punct, String, Punct, Number, Keyword, Ident, EOF},
		kinds(toks))
	assert.Equal(t, "select", toks[0].Text)
	assert.Equal(t, "it's", toks[3].Text)
	assert.Equal(t, "3.14", toks[5].Text)
}

func TestTokenizeComments(t *testing.T) {
	toks, err := New("SELECT 1 -- one\n+ 2 /* two /* nested */ still two */ + 3").Tokenize()
	require.NoError(t, err)
	assert.Equal(t,
		[]Kind{Keyword, Number, Punct, Number, Punct, Number, EOF},
		kinds(toks))
}

func TestCommentMarkersInsideStrings(t *testing.T) {
	toks, err := New("SELECT '--not a comment', '/*neither*/'").Tokenize()
	require.NoError(t, err)
	require.Equal(t, String, toks[1].Kind)
	assert.Equal(t, "--not a comment", toks[1].Text)
	require.Equal(t, String, toks[3].Kind)
	assert.Equal(t, "/*neither*/", toks[3].Text)
}

func TestUnterminatedStringAndComment(t *testing.T) {
	_, err := New("SELECT 'oops").Tokenize()
	require.Error(t, err)
	var lexErr *Error
	require.ErrorAs(t, err, &lexErr)
	assert.Contains(t, lexErr.Message, "unterminated string")

	_, err = New("SELECT 1 /* no end").Tokenize()
	require.Error(t, err)
}

func TestPlaceholders(t *testing.T) {
	toks, err := New("SELECT $1, $23").Tokenize()
	require.NoError(t, err)
	assert.Equal(t, Placeholder, toks[1].Kind)
	assert.Equal(t, "$1", toks[1].Text)
	assert.Equal(t, "$23", toks[3].Text)
}

func TestMultiCharPunct(t *testing.T) {
	toks, err := New("a::b <= c <> d != e == f").Tokenize()
	require.NoError(t, err)
	var punct []string
	for _, tok := range toks {
		if tok.Kind == Punct {
			punct = append(punct, tok.Text)
		}
	}
	assert.Equal(t, []string{"::", "<=", "<>", "!=", "=="}, punct)
}

func TestFStringRetainsPrefix(t *testing.T) {
	toks, err := New("SELECT f'v={v}'").Tokenize()
	require.NoError(t, err)
	require.Equal(t, String, toks[1].Kind)
	assert.Equal(t, "v={v}", toks[1].Text)
	assert.Equal(t, "f'v={v}'", toks[1].Raw)
}

func TestQuotedIdentifiers(t *testing.T) {
	toks, err := New(`SELECT "select" FROM t`).Tokenize()
	require.NoError(t, err)
	assert.Equal(t, Ident, toks[1].Kind)
	assert.Equal(t, "select", toks[1].Text)
}

func TestErrorPositions(t *testing.T) {
	_, err := New("SELECT a,\n  &b").Tokenize()
	require.Error(t, err)
	var lexErr *Error
	require.ErrorAs(t, err, &lexErr)
	assert.Equal(t, 2, lexErr.Line)
	assert.Equal(t, 3, lexErr.Column)
	assert.Contains(t, lexErr.Snippet, "^")
}

func TestWindowUnits(t *testing.T) {
	assert.EqualValues(t, 1, WindowUnitMillis["ms"])
	assert.EqualValues(t, 1000, WindowUnitMillis["s"])
	assert.EqualValues(t, 86_400_000, WindowUnitMillis["d"])
}
