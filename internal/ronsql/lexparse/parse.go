package lexparse

import "fmt"

// ExprKind tags a raw arithmetic expression node before it is lowered
// into an agg.Expr DAG.
type ExprKind int

const (
	ExprColumn ExprKind = iota
	ExprIntLit
	ExprBinary
)

// BinOp is a raw arithmetic operator, lowered 1:1 onto agg.Op.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinDivInt
	BinRem
)

// Expr is a raw (unlowered) arithmetic expression.
type Expr struct {
	Kind   ExprKind
	Column string
	IntVal int64
	Op     BinOp
	Left   *Expr
	Right  *Expr
}

// AggFunc tags an aggregate wrapper in the SELECT list.
type AggFunc int

const (
	AggNone AggFunc = iota
	AggSum
	AggMin
	AggMax
	AggCount
	AggAvg
)

// SelectItem is one raw SELECT-list entry.
type SelectItem struct {
	Func    AggFunc
	Expr    *Expr // nil for COUNT(*)
	IsStar  bool
}

// CompareOp is a WHERE comparison operator.
type CompareOp int

const (
	CmpGE CompareOp = iota
	CmpGT
	CmpLE
	CmpLT
	CmpEQ
)

// Comparison is one `column <op> intlit` leaf condition.
type Comparison struct {
	Column string
	Op     CompareOp
	Value  int64
}

// Statement is the parsed form of one ronsql request body.
type Statement struct {
	Explain bool
	Select  []SelectItem
	From    string
	Where   []Comparison // top-level AND conjunction (spec.md §4.7)
	GroupBy []string
}

type parser struct {
	toks []Token
	pos  int
}

// Parse lexes and parses input into a Statement.
func Parse(input string) (*Statement, error) {
	toks, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseStatement()
}

func (p *parser) cur() Token  { return p.toks[p.pos] }
func (p *parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errAt(t Token, msg string) error {
	return &SyntaxError{Pos: t.Pos, Message: msg}
}

func (p *parser) expectKeyword(kw string) (Token, error) {
	t := p.cur()
	if t.Kind != TokKeyword || t.Text != kw {
		return t, p.errAt(t, fmt.Sprintf("expected %s", kw))
	}
	return p.advance(), nil
}

func (p *parser) parseStatement() (*Statement, error) {
	stmt := &Statement{}

	if p.cur().Kind == TokKeyword && p.cur().Text == "EXPLAIN" {
		p.advance()
		stmt.Explain = true
	}

	if _, err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Select = items

	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tableTok := p.cur()
	if tableTok.Kind != TokIdent {
		return nil, p.errAt(tableTok, "expected table name")
	}
	p.advance()
	stmt.From = tableTok.Text

	if p.cur().Kind == TokKeyword && p.cur().Text == "WHERE" {
		p.advance()
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.cur().Kind == TokKeyword && p.cur().Text == "GROUP" {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = cols
	}

	if p.cur().Kind != TokEOF {
		return nil, p.errAt(p.cur(), "unexpected trailing input")
	}

	return stmt, nil
}

func (p *parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	t := p.cur()
	if t.Kind == TokKeyword {
		switch t.Text {
		case "SUM", "MIN", "MAX", "COUNT", "AVG":
			p.advance()
			if _, err := p.expect(TokLParen); err != nil {
				return SelectItem{}, err
			}
			if t.Text == "COUNT" && p.cur().Kind == TokStar {
				p.advance()
				if _, err := p.expect(TokRParen); err != nil {
					return SelectItem{}, err
				}
				return SelectItem{Func: AggCount, IsStar: true}, nil
			}
			e, err := p.parseExpr()
			if err != nil {
				return SelectItem{}, err
			}
			if _, err := p.expect(TokRParen); err != nil {
				return SelectItem{}, err
			}
			return SelectItem{Func: aggFuncOf(t.Text), Expr: e}, nil
		}
	}
	e, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Func: AggNone, Expr: e}, nil
}

func aggFuncOf(kw string) AggFunc {
	switch kw {
	case "SUM":
		return AggSum
	case "MIN":
		return AggMin
	case "MAX":
		return AggMax
	case "COUNT":
		return AggCount
	case "AVG":
		return AggAvg
	default:
		return AggNone
	}
}

func (p *parser) expect(k TokenKind) (Token, error) {
	t := p.cur()
	if t.Kind != k {
		return t, p.errAt(t, "unexpected token")
	}
	return p.advance(), nil
}

// parseExpr parses additive then multiplicative arithmetic over columns
// and integer literals.
func (p *parser) parseExpr() (*Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.cur().Kind {
		case TokPlus:
			op = BinAdd
		case TokMinus:
			op = BinSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Expr{Kind: ExprBinary, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseTerm() (*Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.cur().Kind {
		case TokStar:
			op = BinMul
		case TokSlash:
			op = BinDiv
		case TokSlashSlash:
			op = BinDivInt
		case TokPercent:
			op = BinRem
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &Expr{Kind: ExprBinary, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseFactor() (*Expr, error) {
	t := p.cur()
	switch t.Kind {
	case TokLParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokIdent:
		p.advance()
		return &Expr{Kind: ExprColumn, Column: t.Text}, nil
	case TokInt:
		p.advance()
		v, err := parseIntLiteral(t.Text)
		if err != nil {
			return nil, p.errAt(t, "invalid integer literal")
		}
		return &Expr{Kind: ExprIntLit, IntVal: v}, nil
	case TokMinus:
		p.advance()
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: ExprBinary, Op: BinSub, Left: &Expr{Kind: ExprIntLit, IntVal: 0}, Right: inner}, nil
	default:
		return nil, p.errAt(t, "expected expression")
	}
}

func (p *parser) parseIdentList() ([]string, error) {
	var cols []string
	for {
		t := p.cur()
		if t.Kind != TokIdent {
			return nil, p.errAt(t, "expected identifier")
		}
		p.advance()
		cols = append(cols, t.Text)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return cols, nil
}

// parseWhere recognizes only the top-level AND conjunction of simple
// `column op intlit` comparisons (spec.md §4.7's minimal pattern); richer
// trees are left unsupported by this minimal dialect.
func (p *parser) parseWhere() ([]Comparison, error) {
	var out []Comparison
	for {
		cmp, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		out = append(out, cmp)
		if p.cur().Kind == TokKeyword && p.cur().Text == "AND" {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parseComparison() (Comparison, error) {
	colTok := p.cur()
	if colTok.Kind != TokIdent {
		return Comparison{}, p.errAt(colTok, "expected column in WHERE clause")
	}
	p.advance()

	var op CompareOp
	switch p.cur().Kind {
	case TokGE:
		op = CmpGE
	case TokGT:
		op = CmpGT
	case TokLE:
		op = CmpLE
	case TokLT:
		op = CmpLT
	case TokEQ:
		op = CmpEQ
	default:
		return Comparison{}, p.errAt(p.cur(), "expected comparison operator")
	}
	p.advance()

	valTok := p.cur()
	if valTok.Kind != TokInt {
		return Comparison{}, p.errAt(valTok, "expected integer literal")
	}
	p.advance()
	v, err := parseIntLiteral(valTok.Text)
	if err != nil {
		return Comparison{}, p.errAt(valTok, "invalid integer literal")
	}

	return Comparison{Column: colTok.Text, Op: op, Value: v}, nil
}
