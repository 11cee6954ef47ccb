package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// RecordRepo — интерфейс к хранилищу строк наблюдаемости.
// Таблица records хранит и клиентские записи, и серверный аудит,
// с ключами для запросов by-trace и by-time-range.
type RecordRepo struct {
	db *sql.DB
}

func NewRecordRepo(connString string) *RecordRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &RecordRepo{db: db}
}

// Ping проверяет доступность базы при старте
func (r *RecordRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const recordColumns = `id, session_id, trace_id, user_id, user_name, kind, level, message,
	action, entity_name, method, path, status, duration_ms, is_success, error, timestamp`

// WriteBatch сохраняет пачку строк одним INSERT.
func (r *RecordRepo) WriteBatch(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице records
	numFields := 17
	placeholderStr := ""
	vals := make([]interface{}, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		p := i * numFields
		ph := make([]string, numFields)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", p+j+1)
		}
		placeholderStr += "(" + strings.Join(ph, ", ") + "),"

		vals = append(vals,
			rec.ID, rec.SessionID, rec.TraceID, rec.UserID, rec.UserName,
			rec.Kind, rec.Level, rec.Message, rec.Action, rec.EntityName,
			rec.Method, rec.Path, rec.Status, rec.DurationMs, rec.IsSuccess,
			rec.Error, rec.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO records (%s) VALUES %s",
		strings.ReplaceAll(recordColumns, "\n\t", " "),
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// FetchByTrace возвращает все строки одного trace по возрастанию времени:
// точный и быстрый путь корреляции, когда идентификатор известен.
func (r *RecordRepo) FetchByTrace(ctx context.Context, traceID string) ([]domain.Record, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM records WHERE trace_id = $1 ORDER BY timestamp ASC`, recordColumns)

	rows, err := r.db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch by trace: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FetchWindow возвращает строки сессии в интервале [from, to].
// Нулевые from/to снимают ограничение — так движок корреляции
// забирает полный набор при деградации.
func (r *RecordRepo) FetchWindow(ctx context.Context, sessionID, kind string, from, to time.Time) ([]domain.Record, error) {
	conditions := []string{"session_id = $1"}
	vals := []interface{}{sessionID}

	if kind != "" {
		vals = append(vals, kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(vals)))
	}
	if !from.IsZero() {
		vals = append(vals, from)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(vals)))
	}
	if !to.IsZero() {
		vals = append(vals, to)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(vals)))
	}

	query := fmt.Sprintf(`SELECT %s FROM records WHERE %s ORDER BY timestamp ASC`,
		recordColumns, strings.Join(conditions, " AND "))

	rows, err := r.db.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch window: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FetchTimeline — страница таймлайна по убыванию времени.
// Фильтры: сессия, пользователь, свободный текст по message/action/path.
// Просим limit+1 строк, чтобы дешево узнать о существовании
// следующей страницы.
func (r *RecordRepo) FetchTimeline(ctx context.Context, sessionID, userID, search string, limit, offset int) ([]domain.Record, error) {
	conditions := []string{"1=1"}
	vals := []interface{}{}

	if sessionID != "" {
		vals = append(vals, sessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(vals)))
	}
	if userID != "" {
		vals = append(vals, userID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(vals)))
	}
	if search != "" {
		vals = append(vals, "%"+search+"%")
		n := len(vals)
		conditions = append(conditions, fmt.Sprintf("(message ILIKE $%d OR action ILIKE $%d OR path ILIKE $%d)", n, n, n))
	}

	vals = append(vals, limit+1)
	limitPos := len(vals)
	vals = append(vals, offset)

	query := fmt.Sprintf(`SELECT %s FROM records WHERE %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		recordColumns, strings.Join(conditions, " AND "), limitPos, limitPos+1)

	rows, err := r.db.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch timeline: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FetchRecent — последние N строк по всему флоту (для живого каталога).
func (r *RecordRepo) FetchRecent(ctx context.Context, limit int) ([]domain.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records ORDER BY timestamp DESC LIMIT $1`, recordColumns)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch recent: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetGlobalStats собирает агрегат для дашборда за последние сутки.
func (r *RecordRepo) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	stats := &domain.GlobalStats{}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT is_success),
			COALESCE(AVG(duration_ms) FILTER (WHERE method <> ''), 0),
			COUNT(DISTINCT session_id)
		FROM records
		WHERE timestamp > NOW() - INTERVAL '24 hours'`).Scan(
		&stats.TotalRecords,
		&stats.ErrorsLast24h,
		&stats.AvgRequestMs,
		&stats.ActiveSessions,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: global stats: %w", err)
	}

	// Почасовая активность для графика
	rows, err := r.db.QueryContext(ctx, `
		SELECT TO_CHAR(DATE_TRUNC('hour', timestamp), 'HH24:00'), COUNT(*)
		FROM records
		WHERE timestamp > NOW() - INTERVAL '24 hours'
		GROUP BY 1 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("postgres: hourly activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.ActivityPoint
		if err := rows.Scan(&p.Hour, &p.Count); err != nil {
			return nil, err
		}
		stats.HourlyActivity = append(stats.HourlyActivity, p)
	}
	return stats, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	var out []domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.TraceID, &rec.UserID, &rec.UserName,
			&rec.Kind, &rec.Level, &rec.Message, &rec.Action, &rec.EntityName,
			&rec.Method, &rec.Path, &rec.Status, &rec.DurationMs, &rec.IsSuccess,
			&rec.Error, &rec.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
