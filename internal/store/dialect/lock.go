package dialect

// ForUpdate returns the row-locking clause to append to a SELECT that reads
// a row before mutating it inside the same transaction.
//
//	Postgres: " FOR UPDATE"
//	SQLite:   "" — a single writer connection already serializes writers.
func ForUpdate(driver string) string {
	if IsPostgres(driver) {
		return " FOR UPDATE"
	}
	return ""
}
