//go:build integration

// Package testdb provides utilities for database integration tests.
//
// Tests run against the database named by DATABASE_URL (or
// ASYNCBG_TEST_DB_URL) and are skipped when neither is set. WithTx runs a test
// inside a transaction that is rolled back afterwards, so tests can share
// tables and run in parallel:
//
//	func TestMyFeature(t *testing.T) {
//	    t.Parallel()
//	    db := testdb.GetTestDBWithT(t)
//
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        store := postgres.NewStatusStore(tx, time.Hour, nil)
//	        // ...
//	    })
//	}
//
// Statements inside one transaction see a fixed NOW(), so tests that depend
// on time passing must use the connection directly.
package testdb
