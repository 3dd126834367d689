package dao

import (
	"database/sql"
)

// RunDAO sim_run表的数据访问对象（内部使用）
type RunDAO struct {
	ID         string         `db:"id"`
	Status     string         `db:"status"`
	StartedAt  int64          `db:"started_at"`
	FinishedAt int64          `db:"finished_at"`
	StartDate  int            `db:"start_date"`
	EndDate    int            `db:"end_date"`
	Total      int            `db:"total"`
	Failed     sql.NullString `db:"failed"` // 逗号分隔
	Message    sql.NullString `db:"message"`
	RunDir     sql.NullString `db:"run_dir"`
}

// EventDAO sim_run_event表的数据访问对象（内部使用）
type EventDAO struct {
	ID        int64          `db:"id"`
	RunID     string         `db:"run_id"`
	Type      string         `db:"type"`
	Module    string         `db:"module"`
	Worker    string         `db:"worker"`
	Message   sql.NullString `db:"message"`
	Skipped   int            `db:"skipped"`
	CreatedAt int64          `db:"created_at"`
}
