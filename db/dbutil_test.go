package db_test

import (
	"fmt"
	"testing"

	"gitlab.com/arcanecrypto/hashgate/db"
	"gitlab.com/arcanecrypto/hashgate/testutil"
)

func TestGetEverythingFromTable(t *testing.T) {
	_, err := testDB.Exec(
		"CREATE TABLE test_table (foobar VARCHAR(256), bazfoo INT NOT NULL)")
	if err != nil {
		testutil.FatalMsg(t, err)
	}

	rows, err := db.GetEverythingFromTable(testDB, "test_table")
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 0, len(rows))

	insertQuery := func(index int) string {
		return fmt.Sprintf("INSERT INTO test_table VALUES ('test_%d', %d)", index, index)
	}

	if _, err = testDB.Exec(insertQuery(0)); err != nil {
		testutil.FatalMsg(t, err)
	}

	rows, err = db.GetEverythingFromTable(testDB, "test_table")
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 1, len(rows))

	if _, err = testDB.Exec(insertQuery(1)); err != nil {
		testutil.FatalMsg(t, err)
	}

	rows, err = db.GetEverythingFromTable(testDB, "test_table")
	if err != nil {
		testutil.FatalMsg(t, err)
	}
	testutil.AssertEqual(t, 2, len(rows))

	expected := [][]string{
		{"test_0", "0"},
		{"test_1", "1"},
	}
	for i := range expected {
		testutil.AssertEqual(t, expected[i][0], rows[i][0])
		testutil.AssertEqual(t, expected[i][1], rows[i][1])
	}
}

func TestGetEverythingFromMissingTable(t *testing.T) {
	_, err := db.GetEverythingFromTable(testDB, "no_such_table")
	testutil.AssertMsg(t, err != nil, "querying a missing table succeeded")
}
