package sqlcheck

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

type qualifiedRef struct {
	table  string
	column string
}

// references holds every identifier pulled out of a parsed statement.
// Output aliases never land in strict: an alias is the ResTarget's name,
// not a ColumnRef, so walking target expressions only yields real column
// references (including aggregate arguments).
type references struct {
	tables    []string
	qualified []qualifiedRef
	strict    []string
}

// extractReferences walks a parsed statement and collects table names,
// table-qualified column references, and bare columns that must resolve.
func extractReferences(stmt *pg_query.Node) references {
	var refs references
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return refs
	}
	collectSelect(sel, &refs)
	return refs
}

func collectSelect(sel *pg_query.SelectStmt, refs *references) {
	for _, item := range sel.GetFromClause() {
		collectFrom(item, refs)
	}
	for _, item := range sel.GetTargetList() {
		if rt := item.GetResTarget(); rt != nil {
			collectColumns(rt.GetVal(), refs, true)
		}
	}
	collectColumns(sel.GetWhereClause(), refs, true)
	collectColumns(sel.GetHavingClause(), refs, true)
	for _, item := range sel.GetGroupClause() {
		collectColumns(item, refs, true)
	}
	for _, item := range sel.GetSortClause() {
		collectColumns(item, refs, true)
	}
}

// collectFrom gathers table names from FROM items, descending through
// joins. Join predicates count as strict column references. Subselects
// in FROM introduce their own scope and are not descended into.
func collectFrom(node *pg_query.Node, refs *references) {
	if node == nil {
		return
	}
	switch {
	case node.GetRangeVar() != nil:
		refs.tables = append(refs.tables, node.GetRangeVar().GetRelname())
	case node.GetJoinExpr() != nil:
		j := node.GetJoinExpr()
		collectFrom(j.GetLarg(), refs)
		collectFrom(j.GetRarg(), refs)
		collectColumns(j.GetQuals(), refs, true)
	}
}

// collectColumns finds ColumnRef nodes in an expression subtree. When
// strict is set, bare (unqualified) columns are recorded for mandatory
// resolution; otherwise only qualified references are kept.
func collectColumns(node *pg_query.Node, refs *references, strict bool) {
	if node == nil {
		return
	}
	switch {
	case node.GetColumnRef() != nil:
		recordColumnRef(node.GetColumnRef(), refs, strict)
	case node.GetAExpr() != nil:
		e := node.GetAExpr()
		collectColumns(e.GetLexpr(), refs, strict)
		collectColumns(e.GetRexpr(), refs, strict)
	case node.GetBoolExpr() != nil:
		for _, arg := range node.GetBoolExpr().GetArgs() {
			collectColumns(arg, refs, strict)
		}
	case node.GetFuncCall() != nil:
		for _, arg := range node.GetFuncCall().GetArgs() {
			collectColumns(arg, refs, strict)
		}
	case node.GetNullTest() != nil:
		collectColumns(node.GetNullTest().GetArg(), refs, strict)
	case node.GetTypeCast() != nil:
		collectColumns(node.GetTypeCast().GetArg(), refs, strict)
	case node.GetSortBy() != nil:
		collectColumns(node.GetSortBy().GetNode(), refs, strict)
	case node.GetResTarget() != nil:
		collectColumns(node.GetResTarget().GetVal(), refs, strict)
	case node.GetCaseExpr() != nil:
		c := node.GetCaseExpr()
		collectColumns(c.GetArg(), refs, strict)
		for _, w := range c.GetArgs() {
			collectColumns(w, refs, strict)
		}
		collectColumns(c.GetDefresult(), refs, strict)
	case node.GetCaseWhen() != nil:
		w := node.GetCaseWhen()
		collectColumns(w.GetExpr(), refs, strict)
		collectColumns(w.GetResult(), refs, strict)
	case node.GetCoalesceExpr() != nil:
		for _, arg := range node.GetCoalesceExpr().GetArgs() {
			collectColumns(arg, refs, strict)
		}
	case node.GetList() != nil:
		for _, item := range node.GetList().GetItems() {
			collectColumns(item, refs, strict)
		}
	case node.GetAIndirection() != nil:
		collectColumns(node.GetAIndirection().GetArg(), refs, strict)
	}
}

func recordColumnRef(ref *pg_query.ColumnRef, refs *references, strict bool) {
	fields := ref.GetFields()
	var parts []string
	for _, f := range fields {
		if f.GetAStar() != nil {
			return // SELECT * or table.* always resolves
		}
		if s := f.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
		}
	}
	switch len(parts) {
	case 1:
		if strict {
			refs.strict = append(refs.strict, parts[0])
		}
	case 2:
		refs.qualified = append(refs.qualified, qualifiedRef{table: parts[0], column: parts[1]})
	case 3:
		// schema.table.column
		refs.qualified = append(refs.qualified, qualifiedRef{table: parts[1], column: parts[2]})
	}
}
