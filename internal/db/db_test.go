// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"testing"

	"github.com/cobaltcore-dev/reservoir/internal/db"
	testlibDB "github.com/cobaltcore-dev/reservoir/testlib/db"
)

type widget struct {
	ID   int64  `db:"id, primarykey, autoincrement"`
	Name string `db:"name"`
}

func (widget) TableName() string { return "widgets" }

func TestCreateTable(t *testing.T) {
	dbEnv := testlibDB.SetupDBEnv(t)
	testDB := db.DB{DbMap: dbEnv.DbMap}
	defer dbEnv.Close()

	if err := testDB.CreateTable(testDB.AddTable(widget{})); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := testDB.Insert(&widget{Name: "one"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	count, err := testDB.SelectInt("SELECT COUNT(*) FROM widgets")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	// Creating the same table again must not fail.
	if err := testDB.CreateTable(testDB.AddTable(widget{})); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestUpsert(t *testing.T) {
	dbEnv := testlibDB.SetupDBEnv(t)
	testDB := db.DB{DbMap: dbEnv.DbMap}
	defer dbEnv.Close()

	if err := testDB.CreateTable(testDB.AddTable(widget{})); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	w := widget{Name: "one"}
	if err := db.Upsert(testDB, &w); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	w.Name = "two"
	if err := db.Upsert(testDB, &w); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
