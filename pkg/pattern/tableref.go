package pattern

// TableRef is a FROM-clause item of a host statement. The set of
// implementations is closed: BaseTable, Subquery, Join, GraphTable and
// Unsupported.
type TableRef interface {
	tableRef()
}

// BaseTable is a plain table scan; it never contains a MATCH.
type BaseTable struct {
	Name string
}

// Subquery is a parenthesized SELECT in a FROM clause.
type Subquery struct {
	Query *Select
	Alias string
}

// Join combines two table references.
type Join struct {
	Left  TableRef
	Right TableRef
}

// GraphTable is a GRAPH_TABLE call. Either Match is set, or Text holds the
// call's source and is parsed during compilation.
type GraphTable struct {
	Text  string
	Match *MatchQuery
}

// Unsupported stands for any table reference kind the compiler does not model
// (PIVOT, SHOW, VALUES lists, ...). Kind names it in the error.
type Unsupported struct {
	Kind string
}

func (*BaseTable) tableRef()   {}
func (*Subquery) tableRef()    {}
func (*Join) tableRef()        {}
func (*GraphTable) tableRef()  {}
func (*Unsupported) tableRef() {}

// CTE is a WITH-clause entry.
type CTE struct {
	Name  string
	Query *Select
}

// Select is the part of a host SELECT statement the compiler walks. From may be
// nil for a SELECT without a FROM clause.
type Select struct {
	CTEs []CTE
	From TableRef
}

// walkSelect visits CTE bodies first, then the FROM clause, calling visit for
// every GraphTable in source order.
func walkSelect(s *Select, visit func(*GraphTable) error) error {
	if s == nil {
		return nil
	}
	for _, cte := range s.CTEs {
		if err := walkSelect(cte.Query, visit); err != nil {
			return err
		}
	}
	if s.From == nil {
		return nil
	}
	return walkTableRef(s.From, visit)
}

func walkTableRef(ref TableRef, visit func(*GraphTable) error) error {
	switch r := ref.(type) {
	case *BaseTable:
		return nil
	case *Subquery:
		return walkSelect(r.Query, visit)
	case *Join:
		if err := walkTableRef(r.Left, visit); err != nil {
			return err
		}
		return walkTableRef(r.Right, visit)
	case *GraphTable:
		return visit(r)
	case *Unsupported:
		return &UnsupportedConstructError{Kind: r.Kind}
	case nil:
		return &UnsupportedConstructError{Kind: "empty"}
	default:
		return &UnsupportedConstructError{Kind: "unknown"}
	}
}
