package testutil

import (
	"os"
	"path/filepath"

	"gitlab.com/arcanecrypto/hashgate/db"
)

// GetDatabaseURL returns a database URL suitable for testing purposes.
// Every call creates a fresh temporary sqlite file, so test packages
// never share state. The given argument is added to the file name.
func GetDatabaseURL(name string) string {
	dir, err := os.MkdirTemp("", "hashgate_"+name+"_")
	if err != nil {
		log.Fatalf("Could not create temp dir for test DB: %v", err)
	}
	return "sqlite://" + filepath.Join(dir, name+".db")
}

// InitDatabase initializes a DB at the given URL such that tests can be
// run against it
func InitDatabase(databaseURL string) *db.DB {
	log.Info("Opening, destroying and creating test DB")
	testDB, err := db.Open(databaseURL)
	if err != nil {
		log.Fatalf("Could not open test database: %+v", err)
	}

	if err = testDB.Teardown(); err != nil {
		log.Fatalf("Could not tear down test DB: %v", err)
	}

	if err = testDB.MigrateUp(); err != nil {
		log.Fatalf("Could not migrate test database: %v", err)
	}

	return testDB
}
