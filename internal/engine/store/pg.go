// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore Postgres 实现：原子组 (a)–(d) 以事务达成；多 Worker 共享同库时 Claim 用
// FOR UPDATE SKIP LOCKED 避免互相阻塞
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 由 DSN 创建连接池并 Ping；与 Worker/API 共享同一张表
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgStore{pool: pool}, nil
}

// Close 关闭连接池
func (s *PgStore) Close() {
	s.pool.Close()
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL,
	input            BYTEA,
	status           TEXT NOT NULL,
	attempt          INT NOT NULL DEFAULT 0,
	result           BYTEA,
	error_message    TEXT,
	error_stack      TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	lease_id         TEXT,
	lease_owner      TEXT,
	lease_expires_at TIMESTAMPTZ,
	wake_at          TIMESTAMPTZ,
	pending_signal_id TEXT,
	signaled_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_executions_claim ON executions (status, wake_at);
CREATE TABLE IF NOT EXISTS step_results (
	execution_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	value        BYTEA,
	completed_at TIMESTAMPTZ,
	PRIMARY KEY (execution_id, step_id)
);
CREATE TABLE IF NOT EXISTS timers (
	execution_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	wake_at      TIMESTAMPTZ NOT NULL,
	reason       TEXT NOT NULL,
	PRIMARY KEY (execution_id, step_id)
);
CREATE INDEX IF NOT EXISTS idx_timers_wake_at ON timers (wake_at);
CREATE TABLE IF NOT EXISTS signal_waiters (
	signal_id    TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	deadline     TIMESTAMPTZ,
	PRIMARY KEY (signal_id, execution_id, step_id)
);
CREATE INDEX IF NOT EXISTS idx_signal_waiters_signal ON signal_waiters (signal_id);
CREATE TABLE IF NOT EXISTS execution_notes (
	execution_id TEXT NOT NULL,
	seq          INT NOT NULL,
	message      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (execution_id, seq)
);
`

// EnsureSchema 建表（IF NOT EXISTS）；部署侧也可用迁移工具管理同构 DDL
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return &StoreError{Op: "ensure schema", Err: err}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const execColumns = `id, task_id, input, status, attempt, result, error_message, error_stack,
	created_at, updated_at, completed_at, lease_id, lease_owner, lease_expires_at,
	wake_at, pending_signal_id, signaled_at`

type pgRow interface {
	Scan(dest ...any) error
}

func scanExecution(row pgRow) (*Execution, error) {
	var e Execution
	var status string
	var errMsg, errStack, leaseID, leaseOwner, pendingSignal *string
	var completedAt, leaseExpires, wakeAt, signaledAt *time.Time
	err := row.Scan(&e.ID, &e.TaskID, &e.Input, &status, &e.Attempt, &e.Result, &errMsg, &errStack,
		&e.CreatedAt, &e.UpdatedAt, &completedAt, &leaseID, &leaseOwner, &leaseExpires,
		&wakeAt, &pendingSignal, &signaledAt)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if errMsg != nil {
		e.Error = &ExecError{Message: *errMsg}
		if errStack != nil {
			e.Error.Stack = *errStack
		}
	}
	if leaseID != nil && leaseExpires != nil {
		owner := ""
		if leaseOwner != nil {
			owner = *leaseOwner
		}
		e.Lease = &Lease{ID: *leaseID, Owner: owner, ExpiresAt: *leaseExpires}
	}
	e.CompletedAt = completedAt
	e.WakeAt = wakeAt
	e.SignaledAt = signaledAt
	if pendingSignal != nil {
		e.PendingSignalID = *pendingSignal
	}
	return &e, nil
}

func (s *PgStore) CreateExecution(ctx context.Context, exec *Execution) error {
	now := time.Now()
	createdAt := exec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := exec.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, task_id, input, status, attempt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		exec.ID, exec.TaskID, exec.Input, string(status), exec.Attempt, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExecutionExists
		}
		return &StoreError{Op: "create execution", Err: err}
	}
	return nil
}

func (s *PgStore) LoadExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+execColumns+` FROM executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, &StoreError{Op: "load execution", Err: err}
	}
	return e, nil
}

func (s *PgStore) ListExecutions(ctx context.Context, filter Filter, page Page) ([]*Execution, error) {
	query := `SELECT ` + execColumns + ` FROM executions WHERE 1=1`
	var args []any
	if filter.TaskID != "" {
		args = append(args, filter.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at, id"
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list executions", Err: err}
	}
	defer rows.Close()
	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, &StoreError{Op: "list executions", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list executions", Err: err}
	}
	return out, nil
}

// claimQueries §4.3 优先级的四个候选查询，依次尝试；SKIP LOCKED 让并发 Worker 各取各的
var claimQueries = []string{
	// 到期 timer：sleeping/retrying 到点，或 signal 等待的 deadline 到点
	`SELECT ` + execColumns + ` FROM executions
	 WHERE (status IN ('sleeping','retrying') OR (status = 'waiting_for_signal' AND signaled_at IS NULL))
	   AND wake_at <= $1 AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
	 ORDER BY wake_at, id LIMIT 1 FOR UPDATE SKIP LOCKED`,
	// 已收到 signal，按到达顺序
	`SELECT ` + execColumns + ` FROM executions
	 WHERE status = 'waiting_for_signal' AND signaled_at IS NOT NULL
	   AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
	 ORDER BY signaled_at, id LIMIT 1 FOR UPDATE SKIP LOCKED`,
	// 新建 pending，按创建顺序
	`SELECT ` + execColumns + ` FROM executions
	 WHERE status = 'pending' AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
	 ORDER BY created_at, id LIMIT 1 FOR UPDATE SKIP LOCKED`,
	// 过期租约回收，排最后
	`SELECT ` + execColumns + ` FROM executions
	 WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at <= $1
	 ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`,
}

func (s *PgStore) Claim(ctx context.Context, ownerID string, ttl time.Duration) (*Claimed, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Op: "claim begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	var target *Execution
	for _, q := range claimQueries {
		row := tx.QueryRow(ctx, q, now)
		e, err := scanExecution(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, &StoreError{Op: "claim select", Err: err}
		}
		target = e
		break
	}
	if target == nil {
		return nil, ErrNoClaimable
	}

	leaseID := "lease-" + uuid.New().String()
	expiresAt := now.Add(ttl)
	_, err = tx.Exec(ctx,
		`UPDATE executions
		 SET status = 'running', lease_id = $2, lease_owner = $3, lease_expires_at = $4,
		     wake_at = NULL, signaled_at = NULL, pending_signal_id = NULL, updated_at = $5
		 WHERE id = $1`,
		target.ID, leaseID, ownerID, expiresAt, now)
	if err != nil {
		return nil, &StoreError{Op: "claim update", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &StoreError{Op: "claim commit", Err: err}
	}
	target.Status = StatusRunning
	target.Lease = &Lease{ID: leaseID, Owner: ownerID, ExpiresAt: expiresAt}
	target.WakeAt = nil
	target.SignaledAt = nil
	target.PendingSignalID = ""
	target.UpdatedAt = now
	return &Claimed{Execution: target, LeaseID: leaseID}, nil
}

func (s *PgStore) RenewLease(ctx context.Context, execID, leaseID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET lease_expires_at = $3, updated_at = $4
		 WHERE id = $1 AND lease_id = $2 AND lease_expires_at > $4`,
		execID, leaseID, now.Add(ttl), now)
	if err != nil {
		return false, &StoreError{Op: "renew lease", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ReleaseLease(ctx context.Context, execID, leaseID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE executions SET lease_id = NULL, lease_owner = NULL, lease_expires_at = NULL, updated_at = $3
		 WHERE id = $1 AND lease_id = $2`,
		execID, leaseID, time.Now())
	if err != nil {
		return &StoreError{Op: "release lease", Err: err}
	}
	return nil
}

func (s *PgStore) AppendStepResult(ctx context.Context, rec *StepResult, attach AppendAttach) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StoreError{Op: "append step begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO step_results (execution_id, step_id, kind, value, completed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ExecutionID, rec.StepID, string(rec.Kind), rec.Value, rec.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateStepID
		}
		return &StoreError{Op: "append step", Err: err}
	}
	if attach.Timer != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO timers (execution_id, step_id, wake_at, reason) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (execution_id, step_id) DO UPDATE SET wake_at = $3, reason = $4`,
			attach.Timer.ExecutionID, attach.Timer.StepID, attach.Timer.WakeAt, string(attach.Timer.Reason))
		if err != nil {
			return &StoreError{Op: "append step timer", Err: err}
		}
	}
	if attach.Waiter != nil {
		createdAt := attach.Waiter.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO signal_waiters (signal_id, execution_id, step_id, created_at, deadline)
			 VALUES ($1, $2, $3, $4, $5)`,
			attach.Waiter.SignalID, attach.Waiter.ExecutionID, attach.Waiter.StepID, createdAt, attach.Waiter.Deadline)
		if err != nil {
			return &StoreError{Op: "append step waiter", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Op: "append step commit", Err: err}
	}
	return nil
}

func (s *PgStore) PromoteWaitingStep(ctx context.Context, execID, stepID string, value []byte, completedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StoreError{Op: "promote begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE step_results SET value = $3, completed_at = $4
		 WHERE execution_id = $1 AND step_id = $2 AND completed_at IS NULL`,
		execID, stepID, value, completedAt)
	if err != nil {
		return &StoreError{Op: "promote step", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrStepNotWaiting
	}
	if _, err := tx.Exec(ctx, `DELETE FROM timers WHERE execution_id = $1 AND step_id = $2`, execID, stepID); err != nil {
		return &StoreError{Op: "promote timer", Err: err}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM signal_waiters WHERE execution_id = $1 AND step_id = $2`, execID, stepID); err != nil {
		return &StoreError{Op: "promote waiter", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Op: "promote commit", Err: err}
	}
	return nil
}

func (s *PgStore) ListStepResults(ctx context.Context, execID string) ([]*StepResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, step_id, kind, value, completed_at FROM step_results
		 WHERE execution_id = $1 ORDER BY step_id`, execID)
	if err != nil {
		return nil, &StoreError{Op: "list steps", Err: err}
	}
	defer rows.Close()
	var out []*StepResult
	for rows.Next() {
		var rec StepResult
		var kind string
		if err := rows.Scan(&rec.ExecutionID, &rec.StepID, &kind, &rec.Value, &rec.CompletedAt); err != nil {
			return nil, &StoreError{Op: "list steps", Err: err}
		}
		rec.Kind = StepKind(kind)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list steps", Err: err}
	}
	return out, nil
}

func (s *PgStore) DueTimers(ctx context.Context, now time.Time) ([]*Timer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, step_id, wake_at, reason FROM timers
		 WHERE wake_at <= $1 ORDER BY wake_at, execution_id, step_id`, now)
	if err != nil {
		return nil, &StoreError{Op: "due timers", Err: err}
	}
	defer rows.Close()
	var out []*Timer
	for rows.Next() {
		var t Timer
		var reason string
		if err := rows.Scan(&t.ExecutionID, &t.StepID, &t.WakeAt, &reason); err != nil {
			return nil, &StoreError{Op: "due timers", Err: err}
		}
		t.Reason = TimerReason(reason)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "due timers", Err: err}
	}
	return out, nil
}

func (s *PgStore) ArmTimer(ctx context.Context, t *Timer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO timers (execution_id, step_id, wake_at, reason) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (execution_id, step_id) DO UPDATE SET wake_at = $3, reason = $4`,
		t.ExecutionID, t.StepID, t.WakeAt, string(t.Reason))
	if err != nil {
		return &StoreError{Op: "arm timer", Err: err}
	}
	return nil
}

func (s *PgStore) CancelTimer(ctx context.Context, execID, stepID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM timers WHERE execution_id = $1 AND step_id = $2`, execID, stepID)
	if err != nil {
		return &StoreError{Op: "cancel timer", Err: err}
	}
	return nil
}

func (s *PgStore) SignalReady(ctx context.Context, signalID string, payload []byte, onlyExecID string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Op: "signal ready begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT execution_id, step_id FROM signal_waiters WHERE signal_id = $1`
	args := []any{signalID}
	if onlyExecID != "" {
		query += ` AND execution_id = $2`
		args = append(args, onlyExecID)
	}
	query += ` ORDER BY created_at, execution_id FOR UPDATE`
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "signal ready select", Err: err}
	}
	type waiterRef struct{ execID, stepID string }
	var refs []waiterRef
	for rows.Next() {
		var ref waiterRef
		if err := rows.Scan(&ref.execID, &ref.stepID); err != nil {
			rows.Close()
			return nil, &StoreError{Op: "signal ready scan", Err: err}
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "signal ready rows", Err: err}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	now := time.Now()
	var affected []string
	for _, ref := range refs {
		tag, err := tx.Exec(ctx,
			`UPDATE step_results SET value = $3
			 WHERE execution_id = $1 AND step_id = $2 AND completed_at IS NULL`,
			ref.execID, ref.stepID, payload)
		if err != nil {
			return nil, &StoreError{Op: "signal ready payload", Err: err}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM timers WHERE execution_id = $1 AND step_id = $2`, ref.execID, ref.stepID); err != nil {
			return nil, &StoreError{Op: "signal ready timer", Err: err}
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM signal_waiters WHERE signal_id = $1 AND execution_id = $2 AND step_id = $3`,
			signalID, ref.execID, ref.stepID); err != nil {
			return nil, &StoreError{Op: "signal ready waiter", Err: err}
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE executions SET signaled_at = $2, updated_at = $2 WHERE id = $1`,
			ref.execID, now); err != nil {
			return nil, &StoreError{Op: "signal ready execution", Err: err}
		}
		affected = append(affected, ref.execID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &StoreError{Op: "signal ready commit", Err: err}
	}
	return affected, nil
}

func (s *PgStore) UpdateExecutionStatus(ctx context.Context, execID string, from, to Status, patch StatusPatch) (bool, error) {
	now := time.Now()
	query := `UPDATE executions SET status = $3, updated_at = $4`
	args := []any{execID, string(from), string(to), now}
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if patch.Attempt != nil {
		add(", attempt = $%d", *patch.Attempt)
	}
	if patch.Result != nil {
		add(", result = $%d", patch.Result)
	}
	if patch.Error != nil {
		add(", error_message = $%d", patch.Error.Message)
		add(", error_stack = $%d", nullStr(patch.Error.Stack))
	}
	if patch.CompletedAt != nil {
		add(", completed_at = $%d", *patch.CompletedAt)
	}
	if patch.WakeAt != nil {
		add(", wake_at = $%d", *patch.WakeAt)
	} else if patch.ClearWakeAt {
		query += ", wake_at = NULL"
	}
	if patch.PendingSignalID != nil {
		add(", pending_signal_id = $%d", nullStr(*patch.PendingSignalID))
	}
	query += ` WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, &StoreError{Op: "update status", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) CancelExecution(ctx context.Context, execID string) (bool, error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = 'cancelled', completed_at = $2, updated_at = $2
		 WHERE id = $1 AND status NOT IN ('completed','failed','cancelled')`,
		execID, now)
	if err != nil {
		return false, &StoreError{Op: "cancel execution", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) AppendNote(ctx context.Context, execID, message string) error {
	// 并发写同一 execution 时 MAX(seq)+1 会撞主键，唯一键冲突重算 seq 再试
	for {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO execution_notes (execution_id, seq, message, created_at)
			 VALUES ($1, (SELECT COALESCE(MAX(seq)+1, 0) FROM execution_notes WHERE execution_id = $1), $2, $3)`,
			execID, message, time.Now())
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return &StoreError{Op: "append note", Err: err}
		}
		if err := ctx.Err(); err != nil {
			return &StoreError{Op: "append note", Err: err}
		}
	}
}

func (s *PgStore) ListNotes(ctx context.Context, execID string) ([]*Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, seq, message, created_at FROM execution_notes
		 WHERE execution_id = $1 ORDER BY seq`, execID)
	if err != nil {
		return nil, &StoreError{Op: "list notes", Err: err}
	}
	defer rows.Close()
	var out []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ExecutionID, &n.Seq, &n.Message, &n.CreatedAt); err != nil {
			return nil, &StoreError{Op: "list notes", Err: err}
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list notes", Err: err}
	}
	return out, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
