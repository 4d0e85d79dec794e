package store

import (
	"context"
	"fmt"
)

const transactionColumns = `id, project_id, user_id, description, sum, classifier, type, ts, classifiers, files, comments, version`

func scanTransaction(row rowScanner) (Transaction, error) {
	var trx Transaction
	err := row.Scan(
		&trx.ID,
		&trx.ProjectID,
		&trx.UserID,
		&trx.Description,
		&trx.Sum,
		&trx.Classifier,
		&trx.Type,
		&trx.Timestamp,
		&trx.Classifiers,
		&trx.Files,
		&trx.Comments,
		&trx.Version,
	)
	return trx, err
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, trx Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, project_id, user_id, description, sum, classifier, type, ts, classifiers, files, comments, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	`, trx.ID, trx.ProjectID, trx.UserID, trx.Description, trx.Sum, trx.Classifier, trx.Type, trx.Timestamp,
		trx.Classifiers, trx.Files, trx.Comments)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (s *PostgresStore) LockTransaction(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

func (s *PostgresStore) SaveTransaction(ctx context.Context, trx Transaction) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET description = $2, sum = $3, classifier = $4, type = $5, ts = $6, classifiers = $7, files = $8,
			comments = $9, version = version + 1
		WHERE id = $1
	`, trx.ID, trx.Description, trx.Sum, trx.Classifier, trx.Type, trx.Timestamp, trx.Classifiers, trx.Files, trx.Comments)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListTransactionsByProject(ctx context.Context, projectID string) ([]Transaction, error) {
	return s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE project_id = $1 ORDER BY ts DESC`, projectID)
}

func (s *PostgresStore) ListTransactionsByIDs(ctx context.Context, ids []string) ([]Transaction, error) {
	if len(ids) == 0 {
		return []Transaction{}, nil
	}
	encoded, err := jsonIDs(ids)
	if err != nil {
		return nil, err
	}
	items, err := s.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, encoded)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, items, func(t Transaction) string { return t.ID }), nil
}

// SetTypeClassifiers replaces classifiers[kind] on every transaction of the
// project with that type and reports how many rows changed.
func (s *PostgresStore) SetTypeClassifiers(ctx context.Context, projectID, kind string, labels []string) (int64, error) {
	encoded, err := jsonIDs(labels)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET classifiers = jsonb_set(classifiers, ARRAY[$2::text], $3::jsonb, true)
		WHERE project_id = $1 AND type = $2
	`, projectID, kind, encoded)
	if err != nil {
		return 0, fmt.Errorf("propagate classifiers: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("propagate classifiers: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := []Transaction{}
	for rows.Next() {
		trx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		items = append(items, trx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return items, nil
}
