package postgres

import (
	"context"
	"database/sql"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// GetOperatorByUsername достает учетку оператора для логина в консоль.
func (r *RecordRepo) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `
		SELECT id, email, username, password_hash, role, created_at, updated_at
		FROM operators WHERE username = $1`

	op := &domain.Operator{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&op.ID, &op.Email, &op.Username, &op.PasswordHash, &op.Role, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

// ListOperatorIDs возвращает все ID операторов: их строки исключаются
// из живого каталога сессий.
func (r *RecordRepo) ListOperatorIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM operators`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
