package dialect

import "testing"

func TestIsPostgres(t *testing.T) {
	if !IsPostgres(PGX) {
		t.Error("expected pgx to be postgres")
	}
	if IsPostgres(SQLite3) {
		t.Error("expected sqlite3 to not be postgres")
	}
}

func TestForUpdate(t *testing.T) {
	if ForUpdate(PGX) != " FOR UPDATE" {
		t.Errorf("pgx: got %q", ForUpdate(PGX))
	}
	if ForUpdate(SQLite3) != "" {
		t.Errorf("sqlite3: got %q", ForUpdate(SQLite3))
	}
}
