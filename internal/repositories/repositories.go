package repositories

import (
	"database/sql"
	"fmt"
)

// NextSequence bumps the single-row counter table "<table>_sequence" and returns the new value.
//
// Call it inside the transaction whose write it orders so the number and the write commit together.
func NextSequence(tx *sql.Tx, table string) (int, error) {
	var sequence int
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)
	if err := tx.QueryRow(query).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", table, err)
	}
	return sequence, nil
}
