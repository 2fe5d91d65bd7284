package vectorstore

// Filter is a metadata predicate applied at search time. The grammar mirrors
// the document-store convention of {field: {$op: value}} clauses combined
// with {$and: [...]}: exactly one of [Eq], [Gte], [Lte], [Contains], or
// [And].
type Filter interface {
	isFilter()
}

// Eq matches documents whose metadata field equals Value.
type Eq struct {
	Field string
	Value any
}

// Gte matches documents whose metadata field is >= Value. For string fields
// (such as ISO-8601 dates) the comparison is lexicographic.
type Gte struct {
	Field string
	Value any
}

// Lte matches documents whose metadata field is <= Value.
type Lte struct {
	Field string
	Value any
}

// Contains matches documents whose metadata field contains Value as a
// substring. Used for the comma-joined keywords field.
type Contains struct {
	Field string
	Value string
}

// And matches documents satisfying every clause.
type And struct {
	Clauses []Filter
}

func (Eq) isFilter()       {}
func (Gte) isFilter()      {}
func (Lte) isFilter()      {}
func (Contains) isFilter() {}
func (And) isFilter()      {}

// Conjoin combines clauses into a single filter: nil for zero clauses, the
// clause itself for one, and an [And] otherwise.
func Conjoin(clauses []Filter) Filter {
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return And{Clauses: clauses}
	}
}
