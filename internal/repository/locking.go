package repository

import "gorm.io/gorm/clause"

// lockingClause returns a row-lock clause used when acquiring a pending job
// so two workers racing against postgres/mysql never claim the same row.
// SQLite ignores FOR UPDATE but serializes writers anyway under WAL mode.
func lockingClause() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}
