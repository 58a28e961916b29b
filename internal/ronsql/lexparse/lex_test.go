package lexparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexEmptyStatementSyntaxErrorAtZero(t *testing.T) {
	_, err := Lex("   ")
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 0, se.Pos)
}

func TestLexIdentifierExactly64BytesAccepted(t *testing.T) {
	name := strings.Repeat("a", 64)
	toks, err := Lex(name)
	require.NoError(t, err)
	require.Equal(t, TokIdent, toks[0].Kind)
}

func TestLexIdentifier65BytesRejected(t *testing.T) {
	name := strings.Repeat("a", 65)
	_, err := Lex(name)
	require.Error(t, err)
}

func TestParseEmptyStatementSyntaxErrorAtZeroNoParse(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 0, se.Pos)
}

func TestParseSimpleAggregateQuery(t *testing.T) {
	stmt, err := Parse("SELECT SUM(a+b), SUM(a*b) FROM t GROUP BY d")
	require.NoError(t, err)
	require.Equal(t, "t", stmt.From)
	require.Len(t, stmt.Select, 2)
	require.Equal(t, AggSum, stmt.Select[0].Func)
	require.Equal(t, []string{"d"}, stmt.GroupBy)
}

func TestParseWhereConjunction(t *testing.T) {
	stmt, err := Parse("SELECT COUNT(*) FROM t WHERE id >= 10 AND id < 20 AND x > 0")
	require.NoError(t, err)
	require.Len(t, stmt.Where, 3)
	require.Equal(t, "id", stmt.Where[0].Column)
	require.Equal(t, CmpGE, stmt.Where[0].Op)
	require.Equal(t, int64(10), stmt.Where[0].Value)
	require.Equal(t, CmpLT, stmt.Where[1].Op)
	require.Equal(t, int64(20), stmt.Where[1].Value)
}

func TestParseCountStar(t *testing.T) {
	stmt, err := Parse("SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.True(t, stmt.Select[0].IsStar)
	require.Equal(t, AggCount, stmt.Select[0].Func)
}

func TestParseExplainPrefix(t *testing.T) {
	stmt, err := Parse("EXPLAIN SELECT a FROM t")
	require.NoError(t, err)
	require.True(t, stmt.Explain)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse("SELECT a FROM t GROUP BY a EXTRA")
	require.Error(t, err)
}
