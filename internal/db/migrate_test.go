package db

import (
	"io/fs"
	"path/filepath"
	"testing"
)

// openRawTestDB opens a database with no schema applied so the
// migration calls under test stay in control.
func openRawTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "migrate_test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestGetMigrationsFS(t *testing.T) {
	origDevMode := DevMode
	DevMode = false
	defer func() { DevMode = origDevMode }()

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	ups, err := fs.Glob(migFS, "*.up.sql")
	if err != nil {
		t.Fatalf("Failed to glob embedded migrations: %v", err)
	}
	if len(ups) != 2 {
		t.Errorf("Expected 2 up migrations embedded, got %d: %v", len(ups), ups)
	}

	downs, err := fs.Glob(migFS, "*.down.sql")
	if err != nil {
		t.Fatalf("Failed to glob embedded down migrations: %v", err)
	}
	if len(downs) != len(ups) {
		t.Errorf("Expected %d down migrations, got %d", len(ups), len(downs))
	}
}

func TestLatestMigrationVersion(t *testing.T) {
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	latest, err := LatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("Failed to get latest migration version: %v", err)
	}
	if latest != 2 {
		t.Errorf("Expected latest version 2, got %d", latest)
	}
}

func TestMigrateVersionFreshDB(t *testing.T) {
	db := openRawTestDB(t)
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("Failed to get version on fresh database: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("Expected version 0 clean on fresh database, got %d (dirty: %v)", version, dirty)
	}
}

func TestMigrateUpDownRoundTrip(t *testing.T) {
	db := openRawTestDB(t)
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	if err := db.MigrateUp(migFS); err != nil {
		t.Fatalf("Migration up failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("Expected version 2 clean after up, got %d (dirty: %v)", version, dirty)
	}

	// Up again is a no-op.
	if err := db.MigrateUp(migFS); err != nil {
		t.Fatalf("Second migration up failed: %v", err)
	}

	if err := db.MigrateDown(migFS); err != nil {
		t.Fatalf("Migration down failed: %v", err)
	}

	version, _, err = db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("Failed to get version after down: %v", err)
	}
	if version != 1 {
		t.Fatalf("Expected version 1 after down, got %d", version)
	}

	// Calibrations arrived in 000002 and must be gone; the initial
	// tables stay.
	var count int
	err = db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='calibrations'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check calibrations table: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected calibrations table dropped at version 1")
	}
	err = db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='transits'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check transits table: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected transits table to remain at version 1")
	}
}

func TestMigrateTo(t *testing.T) {
	db := openRawTestDB(t)
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	if err := db.MigrateTo(migFS, 1); err != nil {
		t.Fatalf("Migration to version 1 failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1, got %d", version)
	}
}

func TestMigrateForce(t *testing.T) {
	db := openRawTestDB(t)
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	if err := db.MigrateUp(migFS); err != nil {
		t.Fatalf("Migration up failed: %v", err)
	}
	if err := db.MigrateForce(migFS, 1); err != nil {
		t.Fatalf("Force migration failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected version 1 clean after force, got %d (dirty: %v)", version, dirty)
	}
}
