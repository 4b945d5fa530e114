// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"database/sql"
	"errors"

	"github.com/go-gorp/gorp"
)

// Create a record for the consumer unless one with its UUID already exists.
// Sets the consumer's internal id either way. Runs on the given executor so
// it can take part in a claim execution transaction.
func EnsureConsumer(e gorp.SqlExecutor, consumer *Consumer) error {
	if consumer.ID != 0 {
		return nil
	}
	var existing Consumer
	err := e.SelectOne(
		&existing,
		"SELECT * FROM consumers WHERE uuid = :uuid",
		map[string]any{"uuid": consumer.UUID},
	)
	if err == nil {
		consumer.ID = existing.ID
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	consumer.Generation = 1
	return e.Insert(consumer)
}
