package sql

import (
	"database/sql"
	"time"
)

// ToNullString maps "" to NULL.
func ToNullString[S ~string](s S) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(s), Valid: true}
}

func FromNullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

// ToNullTime stores time as unix milliseconds, nil maps to NULL.
func ToNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func FromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func ToBool(v int64) bool {
	return v != 0
}

func FromBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
