package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/sim-runner/pkg/storage/dao"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

const (
	runTable   = "sim_run"
	eventTable = "sim_run_event"
)

// SQLJournalRepo 基于sqlx的JournalRepository实现，三种数据库共用，差异由Dialect处理
type SQLJournalRepo struct {
	db      *sqlx.DB
	dialect Dialect
}

// OpenJournalRepo 打开数据库并建表（对外导出）
func OpenJournalRepo(dialect Dialect, dsn string) (*SQLJournalRepo, error) {
	db, err := sqlx.Open(dialect.DriverName(), dialect.NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置%s失败: %w", dialect.Name(), err)
		}
	}
	return NewSQLJournalRepo(db, dialect)
}

// NewSQLJournalRepo 使用已有连接创建Repository并建表
func NewSQLJournalRepo(db *sqlx.DB, dialect Dialect) (*SQLJournalRepo, error) {
	r := &SQLJournalRepo{db: db, dialect: dialect}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLJournalRepo) migrate() error {
	text := r.dialect.TextType()
	schemas := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL,
			start_date INTEGER NOT NULL,
			end_date INTEGER NOT NULL,
			total INTEGER NOT NULL,
			failed %s,
			message %s,
			run_dir %s
		)`, runTable, text, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			run_id VARCHAR(64) NOT NULL,
			type VARCHAR(64) NOT NULL,
			module VARCHAR(255) NOT NULL,
			worker VARCHAR(64) NOT NULL,
			message %s,
			skipped SMALLINT NOT NULL,
			created_at BIGINT NOT NULL
		)`, eventTable, r.dialect.AutoIncrementKeyword(), text),
	}
	for _, schema := range schemas {
		if _, err := r.db.Exec(r.dialect.CreateTableSQL(schema)); err != nil {
			return fmt.Errorf("创建表失败: %w", err)
		}
	}
	if idx := r.dialect.CreateIndexSQL("idx_sim_run_event_run", eventTable, "run_id"); idx != "" {
		if _, err := r.db.Exec(idx); err != nil {
			return fmt.Errorf("创建索引失败: %w", err)
		}
	}
	return nil
}

// DB 底层连接
func (r *SQLJournalRepo) DB() *sqlx.DB {
	return r.db
}

func (r *SQLJournalRepo) CreateRun(ctx context.Context, run *RunRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, status, started_at, finished_at, start_date, end_date, total, failed, message, run_dir)
		VALUES (:id, :status, :started_at, :finished_at, :start_date, :end_date, :total, :failed, :message, :run_dir)`, runTable)
	if _, err := r.db.NamedExecContext(ctx, query, toRunDAO(run)); err != nil {
		return fmt.Errorf("保存运行记录失败: %w", err)
	}
	return nil
}

func (r *SQLJournalRepo) FinishRun(ctx context.Context, run *RunRecord) error {
	query := fmt.Sprintf(`UPDATE %s SET status = :status, finished_at = :finished_at, total = :total,
		failed = :failed, message = :message WHERE id = :id`, runTable)
	res, err := r.db.NamedExecContext(ctx, query, toRunDAO(run))
	if err != nil {
		return fmt.Errorf("更新运行记录失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("运行 %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (r *SQLJournalRepo) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var d dao.RunDAO
	query := r.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE id = ?", runTable))
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("运行 %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return fromRunDAO(&d), nil
}

func (r *SQLJournalRepo) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []dao.RunDAO
	query := r.db.Rebind(fmt.Sprintf("SELECT * FROM %s ORDER BY started_at DESC, id DESC LIMIT ?", runTable))
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	out := make([]*RunRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromRunDAO(&rows[i]))
	}
	return out, nil
}

func (r *SQLJournalRepo) AppendEvent(ctx context.Context, ev *EventRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (run_id, type, module, worker, message, skipped, created_at)
		VALUES (:run_id, :type, :module, :worker, :message, :skipped, :created_at)`, eventTable)
	if _, err := r.db.NamedExecContext(ctx, query, toEventDAO(ev)); err != nil {
		return fmt.Errorf("保存事件失败: %w", err)
	}
	return nil
}

func (r *SQLJournalRepo) ListEvents(ctx context.Context, runID string) ([]*EventRecord, error) {
	var rows []dao.EventDAO
	query := r.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE run_id = ? ORDER BY created_at, id", eventTable))
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	out := make([]*EventRecord, 0, len(rows))
	for _, d := range rows {
		out = append(out, &EventRecord{
			ID:        d.ID,
			RunID:     d.RunID,
			Type:      d.Type,
			Module:    d.Module,
			Worker:    d.Worker,
			Message:   d.Message.String,
			Skipped:   d.Skipped != 0,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

func (r *SQLJournalRepo) Close() error {
	return r.db.Close()
}

func toRunDAO(run *RunRecord) *dao.RunDAO {
	return &dao.RunDAO{
		ID:         run.ID,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		StartDate:  run.StartDate,
		EndDate:    run.EndDate,
		Total:      run.Total,
		Failed:     nullString(strings.Join(run.Failed, ",")),
		Message:    nullString(run.Message),
		RunDir:     nullString(run.RunDir),
	}
}

func fromRunDAO(d *dao.RunDAO) *RunRecord {
	run := &RunRecord{
		ID:         d.ID,
		Status:     d.Status,
		StartedAt:  d.StartedAt,
		FinishedAt: d.FinishedAt,
		StartDate:  d.StartDate,
		EndDate:    d.EndDate,
		Total:      d.Total,
		Message:    d.Message.String,
		RunDir:     d.RunDir.String,
	}
	if d.Failed.String != "" {
		run.Failed = strings.Split(d.Failed.String, ",")
	}
	return run
}

func toEventDAO(ev *EventRecord) *dao.EventDAO {
	skipped := 0
	if ev.Skipped {
		skipped = 1
	}
	return &dao.EventDAO{
		RunID:     ev.RunID,
		Type:      ev.Type,
		Module:    ev.Module,
		Worker:    ev.Worker,
		Message:   nullString(ev.Message),
		Skipped:   skipped,
		CreatedAt: ev.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ JournalRepository = (*SQLJournalRepo)(nil)
