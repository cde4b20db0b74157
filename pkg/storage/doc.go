// Package storage contains the named statement contract that persistence
// backends implement. Statements are declared once in a Registry and carry both
// the SQL form used by relational backends and the predicate form used by the
// in-memory backend.
//
// Backends in this package must:
//   - return ErrNotFound if a select expecting one row finds none
//   - return empty slice for selects that can return multiple rows and find none
//   - report the number of affected rows for updates and deletes, 0 signals a
//     revision mismatch for revisioned rows
package storage
