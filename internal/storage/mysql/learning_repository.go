package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/learning"
	"AgentGov-Core/internal/registry"
	"github.com/go-sql-driver/mysql"
)

// SQLLearningRepository 使用 MySQL 持久化学习记录。
type SQLLearningRepository struct {
	db *sql.DB
}

var _ learning.Repository = (*SQLLearningRepository)(nil)

// NewSQLLearningRepository 建立连接池并执行 schema 迁移。
func NewSQLLearningRepository(ctx context.Context, cfg Config) (*SQLLearningRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLLearningRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

const learningColumns = `id, agent_id, action_name, kind, state, confidence, delta, autonomy, rationale, created_at, updated_at`

// SaveLearning 写入一条学习记录。
func (r *SQLLearningRepository) SaveLearning(ctx context.Context, l *learning.Learning) error {
	if l == nil || l.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "学习记录缺少 ID")
	}
	now := time.Now().Unix()
	if l.CreatedAt == 0 {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.State == "" {
		l.State = learning.StateProposed
	}

	const stmt = `INSERT INTO learnings (` + learningColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, stmt,
		l.ID, l.AgentID, l.ActionName, string(l.Kind), string(l.State),
		l.Confidence, l.Delta, string(l.Autonomy), l.Rationale,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if isDuplicateErr(err) {
			return learning.ErrLearningConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入学习记录失败")
	}
	return nil
}

// SetLearningState 更新学习记录的生效状态。
func (r *SQLLearningRepository) SetLearningState(ctx context.Context, id string, state learning.State) error {
	res, err := r.db.ExecContext(ctx, `UPDATE learnings SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新学习状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		var exists int
		if scanErr := r.db.QueryRowContext(ctx, `SELECT 1 FROM learnings WHERE id = ?`, id).Scan(&exists); scanErr != nil {
			if stdErrors.Is(scanErr, sql.ErrNoRows) {
				return xerrors.New(xerrors.CodeNotFound, "学习记录不存在: "+id)
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, scanErr, "查询学习记录失败")
		}
	}
	return nil
}

// ListLearnings 返回符合过滤条件的学习记录，按创建时间倒序。
func (r *SQLLearningRepository) ListLearnings(ctx context.Context, agentID string, kind learning.Kind, state learning.State) ([]*learning.Learning, error) {
	query := `SELECT ` + learningColumns + ` FROM learnings WHERE 1=1`
	args := make([]any, 0, 3)
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询学习记录失败")
	}
	defer rows.Close()

	result := make([]*learning.Learning, 0)
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历学习记录失败")
	}
	return result, nil
}

// LatestLearning 返回最新一条记录，没有时返回 nil。
func (r *SQLLearningRepository) LatestLearning(ctx context.Context, agentID, actionName string, kind learning.Kind, state learning.State) (*learning.Learning, error) {
	query := `SELECT ` + learningColumns + ` FROM learnings WHERE 1=1`
	args := make([]any, 0, 4)
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if actionName != "" {
		query += ` AND action_name = ?`
		args = append(args, actionName)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, args...)
	l, err := scanLearning(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

// UpsertPattern 以 (agent, action, category) 为键更新失误模式。
func (r *SQLLearningRepository) UpsertPattern(ctx context.Context, pattern *learning.MistakePattern) error {
	if pattern == nil || pattern.AgentID == "" || pattern.ActionName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "失误模式缺少必要字段")
	}
	now := time.Now().Unix()
	if pattern.CreatedAt == 0 {
		pattern.CreatedAt = now
	}
	pattern.UpdatedAt = now

	const stmt = `INSERT INTO mistake_patterns
        (id, agent_id, action_name, category, occurrences, last_seen, active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        occurrences = VALUES(occurrences),
        last_seen = VALUES(last_seen),
        active = VALUES(active),
        updated_at = VALUES(updated_at)`
	if _, err := r.db.ExecContext(ctx, stmt,
		pattern.ID, pattern.AgentID, pattern.ActionName, pattern.Category,
		pattern.Count, pattern.LastSeen, pattern.Active,
		pattern.CreatedAt, pattern.UpdatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入失误模式失败")
	}

	// 更新路径下主键仍是首次写入的 ID，回读保持调用方与库内一致。
	var id string
	if err := r.db.QueryRowContext(ctx,
		`SELECT id FROM mistake_patterns WHERE agent_id = ? AND action_name = ? AND category = ?`,
		pattern.AgentID, pattern.ActionName, pattern.Category,
	).Scan(&id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回读失误模式失败")
	}
	pattern.ID = id
	return nil
}

// ListPatterns 返回失误模式，按出现次数倒序。
func (r *SQLLearningRepository) ListPatterns(ctx context.Context, agentID string, activeOnly bool) ([]*learning.MistakePattern, error) {
	query := `SELECT id, agent_id, action_name, category, occurrences, last_seen, active, created_at, updated_at
        FROM mistake_patterns WHERE 1=1`
	args := make([]any, 0, 1)
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY occurrences DESC, action_name ASC, category ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询失误模式失败")
	}
	defer rows.Close()

	result := make([]*learning.MistakePattern, 0)
	for rows.Next() {
		var pattern learning.MistakePattern
		if err := rows.Scan(&pattern.ID, &pattern.AgentID, &pattern.ActionName, &pattern.Category,
			&pattern.Count, &pattern.LastSeen, &pattern.Active, &pattern.CreatedAt, &pattern.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析失误模式失败")
		}
		result = append(result, &pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历失误模式失败")
	}
	return result, nil
}

// SaveRule 幂等写入纠正规则，已存在时返回 ErrLearningConflict。
func (r *SQLLearningRepository) SaveRule(ctx context.Context, rule *learning.CorrectionRule) error {
	if rule == nil || rule.AgentID == "" || rule.ActionName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "纠正规则缺少必要字段")
	}
	if rule.CreatedAt == 0 {
		rule.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO correction_rules
        (id, agent_id, action_name, category, guidance, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, stmt,
		rule.ID, rule.AgentID, rule.ActionName, rule.Category, rule.Guidance, rule.CreatedAt,
	); err != nil {
		if isDuplicateErr(err) {
			return learning.ErrLearningConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入纠正规则失败")
	}
	return nil
}

// ListRules 返回纠正规则，按动作与类别排序。
func (r *SQLLearningRepository) ListRules(ctx context.Context, agentID, actionName string) ([]*learning.CorrectionRule, error) {
	query := `SELECT id, agent_id, action_name, category, guidance, created_at
        FROM correction_rules WHERE 1=1`
	args := make([]any, 0, 2)
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if actionName != "" {
		query += ` AND action_name = ?`
		args = append(args, actionName)
	}
	query += ` ORDER BY action_name ASC, category ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询纠正规则失败")
	}
	defer rows.Close()

	result := make([]*learning.CorrectionRule, 0)
	for rows.Next() {
		var rule learning.CorrectionRule
		if err := rows.Scan(&rule.ID, &rule.AgentID, &rule.ActionName, &rule.Category, &rule.Guidance, &rule.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析纠正规则失败")
		}
		result = append(result, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历纠正规则失败")
	}
	return result, nil
}

// Close 关闭底层数据库连接。
func (r *SQLLearningRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearning(row rowScanner) (*learning.Learning, error) {
	var (
		l        learning.Learning
		kind     string
		state    string
		autonomy string
	)
	if err := row.Scan(&l.ID, &l.AgentID, &l.ActionName, &kind, &state,
		&l.Confidence, &l.Delta, &autonomy, &l.Rationale, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析学习记录失败")
	}
	l.Kind = learning.Kind(kind)
	l.State = learning.State(state)
	l.Autonomy = registry.AutonomyLevel(autonomy)
	return &l, nil
}

func isDuplicateErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
