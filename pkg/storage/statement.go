package storage

import (
	"errors"
	"fmt"
	"sort"
)

type StatementKind int

const (
	KindSelect StatementKind = iota
	KindInsert
	KindUpdate
	KindDelete
)

func (k StatementKind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("StatementKind(%d)", int(k))
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// View gives in-memory predicates read access to other tables of the same
// transaction.
type View interface {
	Rows(table string) []Row
}

// Statement is a named operation on one table.
type Statement struct {
	Name  string
	Kind  StatementKind
	Table string

	// SQL form. A list argument ([]string) expands its placeholder into one
	// placeholder per element.
	SQL  string
	Args func(param any) ([]any, error)
	Scan func(row Scanner) (any, error)

	// In-memory form. Match filters rows for selects and bulk deletes, Less
	// orders select results. Count selects return the number of matches as
	// int64. Writes with a Row parameter are applied by RowKey.
	Match func(view View, row Row, param any) bool
	Less  func(a, b Row) bool
	Count bool
}

// Registry resolves statements by name.
type Registry struct {
	statements map[string]*Statement
}

func NewRegistry(statements ...[]Statement) (*Registry, error) {
	r := &Registry{statements: map[string]*Statement{}}
	var errs []error
	for _, group := range statements {
		for i := range group {
			s := group[i]
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("statement on table %s has no name", s.Table))
				continue
			}
			if _, exists := r.statements[s.Name]; exists {
				errs = append(errs, fmt.Errorf("duplicate statement %s", s.Name))
				continue
			}
			r.statements[s.Name] = &s
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func (r *Registry) Lookup(name string, kind StatementKind) (*Statement, error) {
	s, ok := r.statements[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatement, name)
	}
	if s.Kind != kind {
		return nil, fmt.Errorf("statement %s is %s, not %s", name, s.Kind, kind)
	}
	return s, nil
}

// Names returns registered statement names sorted.
func (r *Registry) Names() []string {
	res := make([]string, 0, len(r.statements))
	for name := range r.statements {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}
