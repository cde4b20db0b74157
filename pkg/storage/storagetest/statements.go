package storagetest

import (
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// TestRow is the row type the suite reads and writes.
type TestRow struct {
	ID       string
	Group    string
	Name     string
	Revision int
}

func (r *TestRow) RowKey() string   { return r.ID }
func (r *TestRow) RowRevision() int { return r.Revision }
func (r *TestRow) CopyRow(revision int) storage.Row {
	c := *r
	c.Revision = revision
	return &c
}

// Migrations creates the table the suite uses.
func Migrations() []string {
	return []string{`CREATE TABLE IF NOT EXISTS TEST_ROW (
		ID_ TEXT PRIMARY KEY,
		GROUP_ TEXT NOT NULL,
		NAME_ TEXT NOT NULL,
		REV_ INTEGER NOT NULL
	)`}
}

func asRow(param any) (*TestRow, error) {
	row, ok := param.(*TestRow)
	if !ok {
		return nil, fmt.Errorf("expected *TestRow, got %T", param)
	}
	return row, nil
}

func scanRow(s storage.Scanner) (any, error) {
	var r TestRow
	if err := s.Scan(&r.ID, &r.Group, &r.Name, &r.Revision); err != nil {
		return nil, err
	}
	return &r, nil
}

func inGroup(_ storage.View, row storage.Row, param any) bool {
	return row.(*TestRow).Group == param.(string)
}

// Statements returns the statements used by the suite.
func Statements() []storage.Statement {
	return []storage.Statement{
		{
			Name:  "insertTestRow",
			Kind:  storage.KindInsert,
			Table: "TEST_ROW",
			SQL:   "INSERT INTO TEST_ROW (ID_, GROUP_, NAME_, REV_) VALUES (?, ?, ?, ?)",
			Args: func(param any) ([]any, error) {
				r, err := asRow(param)
				if err != nil {
					return nil, err
				}
				return []any{r.ID, r.Group, r.Name, r.Revision}, nil
			},
		},
		{
			Name:  "updateTestRow",
			Kind:  storage.KindUpdate,
			Table: "TEST_ROW",
			SQL:   "UPDATE TEST_ROW SET GROUP_ = ?, NAME_ = ?, REV_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: func(param any) ([]any, error) {
				r, err := asRow(param)
				if err != nil {
					return nil, err
				}
				return []any{r.Group, r.Name, r.Revision + 1, r.ID, r.Revision}, nil
			},
		},
		{
			Name:  "deleteTestRow",
			Kind:  storage.KindDelete,
			Table: "TEST_ROW",
			SQL:   "DELETE FROM TEST_ROW WHERE ID_ = ? AND REV_ = ?",
			Args: func(param any) ([]any, error) {
				r, err := asRow(param)
				if err != nil {
					return nil, err
				}
				return []any{r.ID, r.Revision}, nil
			},
		},
		{
			Name:  "deleteTestRowsByGroups",
			Kind:  storage.KindDelete,
			Table: "TEST_ROW",
			SQL:   "DELETE FROM TEST_ROW WHERE GROUP_ IN (?)",
			Args: func(param any) ([]any, error) {
				return []any{param}, nil
			},
			Match: func(_ storage.View, row storage.Row, param any) bool {
				for _, g := range param.([]string) {
					if row.(*TestRow).Group == g {
						return true
					}
				}
				return false
			},
		},
		{
			Name:  "selectTestRow",
			Kind:  storage.KindSelect,
			Table: "TEST_ROW",
			SQL:   "SELECT ID_, GROUP_, NAME_, REV_ FROM TEST_ROW WHERE ID_ = ?",
			Args:  func(param any) ([]any, error) { return []any{param}, nil },
			Scan:  scanRow,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.RowKey() == param.(string)
			},
		},
		{
			Name:  "selectTestRowsByGroup",
			Kind:  storage.KindSelect,
			Table: "TEST_ROW",
			SQL:   "SELECT ID_, GROUP_, NAME_, REV_ FROM TEST_ROW WHERE GROUP_ = ? ORDER BY NAME_",
			Args:  func(param any) ([]any, error) { return []any{param}, nil },
			Scan:  scanRow,
			Match: inGroup,
			Less: func(a, b storage.Row) bool {
				return a.(*TestRow).Name < b.(*TestRow).Name
			},
		},
		{
			Name:  "selectTestRowCountByGroup",
			Kind:  storage.KindSelect,
			Table: "TEST_ROW",
			SQL:   "SELECT COUNT(*) FROM TEST_ROW WHERE GROUP_ = ?",
			Args:  func(param any) ([]any, error) { return []any{param}, nil },
			Match: inGroup,
			Count: true,
		},
	}
}

// Registry returns a registry with the suite statements.
func Registry() *storage.Registry {
	r, err := storage.NewRegistry(Statements())
	if err != nil {
		panic(err)
	}
	return r
}
