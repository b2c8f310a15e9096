package core

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
This is a parser for a simple query language over stored predictions:

Query       := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := AndExpr ( "AND" AndExpr )*
AndExpr     := Condition | "NOT" Condition
Condition   := Filter | "(" Expr ")"
Filter 			:= "PROB" "(" <string> ")" Op <float>
             | "CLASS" ( "=" | "CONTAINS" ) <string>
Op          := "<" | ">"

Class names are quoted strings since they contain hyphens ("SN-like",
"mu-Lens-Single").
*/

var parser = participle.MustBuild[QueryExpr](
	participle.Unquote("String"),
)

func ParseQuery(query string) (Filter, error) {
	q, err := parser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("error parsing query '%s': %w", query, err)
	}

	filter, err := q.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("error converting query '%s' to filter: %w", query, err)
	}

	return filter, nil
}

type QueryExpr struct {
	Expr *Expr `parser:"@@"`
}

func (q *QueryExpr) ToFilter() (Filter, error) {
	return q.Expr.ToFilter()
}

type Expr struct {
	Ors []*OrExpr `parser:"@@ ( 'OR' @@ )*"`
}

func (q *Expr) ToFilter() (Filter, error) {
	if len(q.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(q.Ors) == 1 {
		return q.Ors[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range q.Ors {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &OrFilter{filters: filters}, nil
}

type OrExpr struct {
	Ands []*Condition `parser:"@@ ( 'AND' @@ )*"`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &AndFilter{filters: filters}, nil
}

type Condition struct {
	Not     bool        `parser:"@'NOT'?"`
	Filter  *FilterExpr `parser:" @@"`
	SubExpr *Expr       `parser:"| '(' @@ ')' "`
}

func (c *Condition) ToFilter() (Filter, error) {
	var filter Filter = nil
	var err error
	if c.Filter != nil {
		filter, err = c.Filter.ToFilter()
	} else if c.SubExpr != nil {
		filter, err = c.SubExpr.ToFilter()
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		filter = &NotFilter{filter: filter}
	}

	return filter, nil
}

type FilterExpr struct {
	Prob  *ProbExpr  `parser:"@@"`
	Class *ClassExpr `parser:"| @@"`
}

func (f *FilterExpr) ToFilter() (Filter, error) {
	if f.Prob != nil {
		return f.Prob.ToFilter()
	}
	return f.Class.ToFilter()
}

type ProbExpr struct {
	Class string  `parser:"'PROB' '(' @String ')'"`
	Op    string  `parser:"@('<' | '>')"`
	Value float64 `parser:"@(Float | Int)"`
}

func (p *ProbExpr) ToFilter() (Filter, error) {
	switch p.Op {
	case "<":
		return &ProbLtFilter{class: p.Class, value: p.Value}, nil
	case ">":
		return &ProbGtFilter{class: p.Class, value: p.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s used with PROB", p.Op)
	}
}

type ClassExpr struct {
	Op    string `parser:"'CLASS' @('=' | 'CONTAINS')"`
	Value string `parser:"@String"`
}

func (c *ClassExpr) ToFilter() (Filter, error) {
	switch c.Op {
	case "=":
		return &ClassEqFilter{value: c.Value}, nil
	case "CONTAINS":
		return &ClassContainsFilter{substr: c.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s used with CLASS", c.Op)
	}
}
