package job

import (
	"context"
	"database/sql"
	"strings"
	"time"

	xerrors "Archive-Agents/internal/errors"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 归档任务历史。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 历史存储。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS job_history (
        job_id BIGINT UNSIGNED NOT NULL,
        bid_id BIGINT UNSIGNED NOT NULL,
        job_type VARCHAR(64) NOT NULL,
        amount BIGINT UNSIGNED NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        last_error TEXT,
        accepted_at BIGINT NOT NULL,
        finished_at BIGINT NOT NULL,
        PRIMARY KEY (job_id, bid_id),
        INDEX idx_history_finished (finished_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 job_history 表失败")
	}
	return nil
}

// Record 写入或覆盖一条历史记录。
func (s *MySQLStore) Record(ctx context.Context, entry HistoryEntry) error {
	const stmt = `INSERT INTO job_history
        (job_id, bid_id, job_type, amount, status, last_error, accepted_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), last_error = VALUES(last_error), finished_at = VALUES(finished_at)`

	_, err := s.db.ExecContext(ctx, stmt,
		entry.JobID,
		entry.BidID,
		entry.JobType,
		entry.Amount,
		string(entry.Status),
		entry.LastError,
		entry.AcceptedAt,
		entry.FinishedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务历史失败")
	}
	return nil
}

// Recent 返回最近完成的任务记录。
func (s *MySQLStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	const stmt = `SELECT job_id, bid_id, job_type, amount, status, last_error, accepted_at, finished_at
        FROM job_history ORDER BY finished_at DESC, job_id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var lastError sql.NullString
		if err := rows.Scan(
			&entry.JobID,
			&entry.BidID,
			&entry.JobType,
			&entry.Amount,
			&entry.Status,
			&lastError,
			&entry.AcceptedAt,
			&entry.FinishedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务历史失败")
		}
		entry.LastError = lastError.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务历史失败")
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
