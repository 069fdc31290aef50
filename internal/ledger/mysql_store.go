package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "AgentGov-Core/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录提案与执行账本。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 创建一个新的 MySQLStore。
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
	const proposals = `CREATE TABLE IF NOT EXISTS agent_proposals (
        id VARCHAR(64) PRIMARY KEY,
        agent_id VARCHAR(128) NOT NULL,
        action_name VARCHAR(255) NOT NULL,
        params TEXT,
        trigger_event TEXT,
        confidence DOUBLE NOT NULL DEFAULT 0,
        rationale TEXT,
        priority VARCHAR(16) NOT NULL DEFAULT 'medium',
        status VARCHAR(16) NOT NULL DEFAULT 'pending',
        reviewed_by VARCHAR(128) DEFAULT '',
        review_notes TEXT,
        reviewed_at BIGINT NOT NULL DEFAULT 0,
        coordination_status VARCHAR(16) NOT NULL DEFAULT 'independent',
        parent_id VARCHAR(64) DEFAULT '',
        result TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_proposal_status (status),
        INDEX idx_proposal_agent (agent_id),
        INDEX idx_proposal_parent (parent_id),
        INDEX idx_proposal_created (created_at)
)`
	const executions = `CREATE TABLE IF NOT EXISTS agent_executions (
        id VARCHAR(64) PRIMARY KEY,
        proposal_id VARCHAR(64) NOT NULL,
        agent_id VARCHAR(128) NOT NULL,
        action_name VARCHAR(255) NOT NULL,
        success TINYINT(1) NOT NULL DEFAULT 0,
        within_bounds TINYINT(1) NOT NULL DEFAULT 1,
        result TEXT,
        error_code VARCHAR(64) DEFAULT '',
        last_error TEXT,
        duration_ms BIGINT NOT NULL DEFAULT 0,
        outcome VARCHAR(16) NOT NULL DEFAULT 'pending',
        mistake_category VARCHAR(128) DEFAULT '',
        feedback_notes TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        UNIQUE KEY uq_execution_proposal (proposal_id),
        INDEX idx_execution_agent (agent_id),
        INDEX idx_execution_outcome (outcome),
        INDEX idx_execution_created (created_at)
)`

	if _, err := s.db.Exec(proposals); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_proposals 表失败")
	}
	if _, err := s.db.Exec(executions); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_executions 表失败")
	}
	return nil
}

// CreateProposal 插入新的提案记录。
func (s *MySQLStore) CreateProposal(ctx context.Context, proposal *Proposal) error {
	if proposal == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "proposal 不能为空")
	}
	if strings.TrimSpace(proposal.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "提案 ID 不能为空")
	}

	now := time.Now().Unix()
	proposal.CreatedAt = now
	proposal.UpdatedAt = now
	if proposal.Status == "" {
		proposal.Status = StatusPending
	}
	if proposal.CoordinationStatus == "" {
		proposal.CoordinationStatus = CoordinationIndependent
	}

	paramsValue, err := marshalJSONColumn(proposal.Params)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码提案参数失败")
	}
	resultValue, err := marshalJSONColumn(proposal.Result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码提案结果失败")
	}

	const stmt = `INSERT INTO agent_proposals
        (id, agent_id, action_name, params, trigger_event, confidence, rationale, priority, status,
         reviewed_by, review_notes, reviewed_at, coordination_status, parent_id, result, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		proposal.ID,
		proposal.AgentID,
		proposal.ActionName,
		paramsValue,
		proposal.Reasoning.Trigger,
		proposal.Reasoning.Confidence,
		proposal.Reasoning.Rationale,
		proposal.Priority,
		proposal.Status,
		proposal.ReviewedBy,
		proposal.ReviewNotes,
		proposal.ReviewedAt,
		proposal.CoordinationStatus,
		proposal.ParentID,
		resultValue,
		proposal.CreatedAt,
		proposal.UpdatedAt,
	)
	if err != nil {
		if isDuplicateErr(err) {
			return ErrProposalConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入提案失败")
	}
	return nil
}

const proposalColumns = `id, agent_id, action_name, params, trigger_event, confidence, rationale, priority, status,
        reviewed_by, review_notes, reviewed_at, coordination_status, parent_id, result, created_at, updated_at`

// GetProposal 查询指定提案。
func (s *MySQLStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM agent_proposals WHERE id = ?`, proposalColumns)
	return scanProposal(s.db.QueryRowContext(ctx, stmt, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var proposal Proposal
	var params, rationale, reviewNotes, result sql.NullString
	var reviewedBy, parentID sql.NullString
	var trigger sql.NullString

	err := row.Scan(
		&proposal.ID,
		&proposal.AgentID,
		&proposal.ActionName,
		&params,
		&trigger,
		&proposal.Reasoning.Confidence,
		&rationale,
		&proposal.Priority,
		&proposal.Status,
		&reviewedBy,
		&reviewNotes,
		&proposal.ReviewedAt,
		&proposal.CoordinationStatus,
		&parentID,
		&result,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提案失败")
	}
	proposal.Reasoning.Trigger = trigger.String
	proposal.Reasoning.Rationale = rationale.String
	proposal.ReviewedBy = reviewedBy.String
	proposal.ReviewNotes = reviewNotes.String
	proposal.ParentID = parentID.String
	if err := unmarshalJSONColumn(params, &proposal.Params); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提案参数失败")
	}
	if err := unmarshalJSONColumn(result, &proposal.Result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提案结果失败")
	}
	return &proposal, nil
}

// ListProposals 返回符合过滤条件的提案。
func (s *MySQLStore) ListProposals(ctx context.Context, opts ListOptions) ([]*Proposal, error) {
	opts.applyDefaults()

	var conditions []string
	var args []any
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.ActionName != "" {
		conditions = append(conditions, "action_name = ?")
		args = append(args, opts.ActionName)
	}
	if opts.ParentID != "" {
		conditions = append(conditions, "parent_id = ?")
		args = append(args, opts.ParentID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if opts.CreatedGTE > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.CreatedGTE)
	}
	if opts.CreatedLTE > 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.CreatedLTE)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := " ORDER BY FIELD(priority, 'critical', 'high', 'medium', 'low'), created_at ASC, id ASC"
	switch opts.Order {
	case SortByCreatedDesc:
		order = " ORDER BY created_at DESC, id ASC"
	case SortByCreatedAsc:
		order = " ORDER BY created_at ASC, id ASC"
	}

	stmt := fmt.Sprintf(`SELECT %s FROM agent_proposals%s%s LIMIT ? OFFSET ?`, proposalColumns, where, order)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提案列表失败")
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提案列表失败")
	}
	return proposals, nil
}

// Review 以比较与交换的方式写入审阅结论。WHERE status = 'pending' 保证
// 并发审阅时恰好一方生效，落败方会得到 ErrAlreadyReviewed。
func (s *MySQLStore) Review(ctx context.Context, id string, status Status, reviewedBy, notes string) (*Proposal, error) {
	if !status.Terminal() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "审阅结论必须是 approved 或 rejected")
	}

	now := time.Now().Unix()
	const stmt = `UPDATE agent_proposals
        SET status = ?, reviewed_by = ?, review_notes = ?, reviewed_at = ?, updated_at = ?
        WHERE id = ? AND status = 'pending'`

	result, err := s.db.ExecContext(ctx, stmt, status, reviewedBy, notes, now, now, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入审阅结论失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认审阅写入失败")
	}
	if affected == 0 {
		existing, getErr := s.GetProposal(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrAlreadyReviewed
	}
	return s.GetProposal(ctx, id)
}

// SetCoordinationStatus 单向推进协同阶段。FIELD 比较保证回退不会写入。
func (s *MySQLStore) SetCoordinationStatus(ctx context.Context, id string, status CoordinationStatus) error {
	if !status.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法协同阶段: "+string(status))
	}

	const stmt = `UPDATE agent_proposals
        SET coordination_status = ?, updated_at = ?
        WHERE id = ?
          AND FIELD(coordination_status, 'independent', 'waiting', 'coordinating', 'complete')
              <= FIELD(?, 'independent', 'waiting', 'coordinating', 'complete')`

	result, err := s.db.ExecContext(ctx, stmt, status, time.Now().Unix(), id, status)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "推进协同阶段失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认协同阶段写入失败")
	}
	if affected == 0 {
		if _, getErr := s.GetProposal(ctx, id); getErr != nil {
			return getErr
		}
		return ErrCoordinationRegress
	}
	return nil
}

// SetResult 回写提案的执行产物。
func (s *MySQLStore) SetResult(ctx context.Context, id string, resultPayload map[string]any) error {
	resultValue, err := marshalJSONColumn(resultPayload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码提案结果失败")
	}
	const stmt = `UPDATE agent_proposals SET result = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, stmt, resultValue, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回写提案结果失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认结果写入失败")
	}
	if affected == 0 {
		if _, getErr := s.GetProposal(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListChildren 返回某个父提案派生出的子提案。
func (s *MySQLStore) ListChildren(ctx context.Context, parentID string) ([]*Proposal, error) {
	if strings.TrimSpace(parentID) == "" {
		return nil, nil
	}
	stmt := fmt.Sprintf(`SELECT %s FROM agent_proposals WHERE parent_id = ? ORDER BY created_at ASC, id ASC`, proposalColumns)
	rows, err := s.db.QueryContext(ctx, stmt, parentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询子提案失败")
	}
	defer rows.Close()

	children := make([]*Proposal, 0)
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历子提案失败")
	}
	return children, nil
}

// CreateExecution 追加一条执行记录。每个提案至多一条，唯一键兜底。
func (s *MySQLStore) CreateExecution(ctx context.Context, execution *Execution) error {
	if execution == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "execution 不能为空")
	}
	if strings.TrimSpace(execution.ID) == "" || strings.TrimSpace(execution.ProposalID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行记录缺少 ID 或提案 ID")
	}

	now := time.Now().Unix()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	if execution.Outcome == "" {
		execution.Outcome = OutcomePending
	}

	resultValue, err := marshalJSONColumn(execution.Result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行结果失败")
	}

	const stmt = `INSERT INTO agent_executions
        (id, proposal_id, agent_id, action_name, success, within_bounds, result, error_code, last_error,
         duration_ms, outcome, mistake_category, feedback_notes, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		execution.ID,
		execution.ProposalID,
		execution.AgentID,
		execution.ActionName,
		execution.Success,
		execution.WithinBounds,
		resultValue,
		execution.ErrorCode,
		execution.LastError,
		execution.DurationMS,
		execution.Outcome,
		execution.MistakeCategory,
		execution.FeedbackNotes,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		if isDuplicateErr(err) {
			return ErrProposalConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入执行记录失败")
	}
	return nil
}

const executionColumns = `id, proposal_id, agent_id, action_name, success, within_bounds, result,
        error_code, last_error, duration_ms, outcome, mistake_category, feedback_notes, created_at, updated_at`

// GetExecution 查询执行记录。
func (s *MySQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM agent_executions WHERE id = ?`, executionColumns)
	return scanExecution(s.db.QueryRowContext(ctx, stmt, id))
}

// GetExecutionByProposal 按提案查找执行记录。
func (s *MySQLStore) GetExecutionByProposal(ctx context.Context, proposalID string) (*Execution, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM agent_executions WHERE proposal_id = ?`, executionColumns)
	return scanExecution(s.db.QueryRowContext(ctx, stmt, proposalID))
}

func scanExecution(row rowScanner) (*Execution, error) {
	var execution Execution
	var result, lastError, feedbackNotes sql.NullString
	var errorCode, category sql.NullString

	err := row.Scan(
		&execution.ID,
		&execution.ProposalID,
		&execution.AgentID,
		&execution.ActionName,
		&execution.Success,
		&execution.WithinBounds,
		&result,
		&errorCode,
		&lastError,
		&execution.DurationMS,
		&execution.Outcome,
		&category,
		&feedbackNotes,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行记录失败")
	}
	execution.ErrorCode = errorCode.String
	execution.LastError = lastError.String
	execution.MistakeCategory = category.String
	execution.FeedbackNotes = feedbackNotes.String
	if err := unmarshalJSONColumn(result, &execution.Result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行结果失败")
	}
	return &execution, nil
}

// RecordOutcome 补写事后评估。WHERE outcome = 'pending' 保证只补写一次。
func (s *MySQLStore) RecordOutcome(ctx context.Context, executionID string, outcome ReviewOutcome, category, notes string) error {
	if outcome != OutcomeCorrect && outcome != OutcomeIncorrect {
		return xerrors.New(xerrors.CodeInvalidArgument, "事后评估结论必须是 correct 或 incorrect")
	}
	category = strings.TrimSpace(category)
	if outcome == OutcomeIncorrect && category == "" {
		category = "uncategorized"
	}

	const stmt = `UPDATE agent_executions
        SET outcome = ?, mistake_category = ?, feedback_notes = ?, updated_at = ?
        WHERE id = ? AND outcome = 'pending'`

	result, err := s.db.ExecContext(ctx, stmt, outcome, category, notes, time.Now().Unix(), executionID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入事后评估失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认评估写入失败")
	}
	if affected == 0 {
		if _, getErr := s.GetExecution(ctx, executionID); getErr != nil {
			return getErr
		}
		return ErrProposalConflict
	}
	return nil
}

// MistakeGroups 用集合查询聚合被判定错误的执行记录。
func (s *MySQLStore) MistakeGroups(ctx context.Context, agentID string, since int64, minCount int) ([]MistakeGroup, error) {
	if minCount <= 0 {
		minCount = 1
	}
	stmt := `SELECT agent_id, action_name, mistake_category, COUNT(*) AS cnt, MAX(created_at) AS last_seen
        FROM agent_executions
        WHERE outcome = 'incorrect'`
	args := []any{}
	if agentID != "" {
		stmt += " AND agent_id = ?"
		args = append(args, agentID)
	}
	if since > 0 {
		stmt += " AND created_at >= ?"
		args = append(args, since)
	}
	stmt += ` GROUP BY agent_id, action_name, mistake_category
        HAVING cnt >= ?
        ORDER BY cnt DESC, action_name ASC, mistake_category ASC`
	args = append(args, minCount)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "聚合失误记录失败")
	}
	defer rows.Close()

	var groups []MistakeGroup
	for rows.Next() {
		var group MistakeGroup
		if err := rows.Scan(&group.AgentID, &group.ActionName, &group.Category, &group.Count, &group.LastSeen); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取失误聚合失败")
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历失误聚合失败")
	}
	return groups, nil
}

// CalibrationRows 关联提案置信度与事后结论。
func (s *MySQLStore) CalibrationRows(ctx context.Context, agentID string, since int64) ([]CalibrationRow, error) {
	stmt := `SELECT p.confidence, e.outcome
        FROM agent_executions e
        JOIN agent_proposals p ON p.id = e.proposal_id
        WHERE e.outcome IN ('correct', 'incorrect')`
	args := []any{}
	if agentID != "" {
		stmt += " AND e.agent_id = ?"
		args = append(args, agentID)
	}
	if since > 0 {
		stmt += " AND e.created_at >= ?"
		args = append(args, since)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询校准样本失败")
	}
	defer rows.Close()

	var samples []CalibrationRow
	for rows.Next() {
		var row CalibrationRow
		var outcome string
		if err := rows.Scan(&row.Confidence, &outcome); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取校准样本失败")
		}
		row.Correct = outcome == string(OutcomeCorrect)
		samples = append(samples, row)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历校准样本失败")
	}
	return samples, nil
}

// ActionOutcomes 按动作聚合提案去向。
func (s *MySQLStore) ActionOutcomes(ctx context.Context, agentID string, since int64) ([]ActionOutcome, error) {
	stmt := `SELECT action_name,
        COUNT(*) AS proposed,
        SUM(status = 'approved') AS approved,
        SUM(status = 'rejected') AS rejected
        FROM agent_proposals WHERE 1=1`
	args := []any{}
	if agentID != "" {
		stmt += " AND agent_id = ?"
		args = append(args, agentID)
	}
	if since > 0 {
		stmt += " AND created_at >= ?"
		args = append(args, since)
	}
	stmt += " GROUP BY action_name ORDER BY action_name ASC"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "聚合提案去向失败")
	}
	outcomes := make(map[string]*ActionOutcome)
	order := make([]string, 0)
	for rows.Next() {
		var outcome ActionOutcome
		if err := rows.Scan(&outcome.ActionName, &outcome.Proposed, &outcome.Approved, &outcome.Rejected); err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提案去向失败")
		}
		outcomes[outcome.ActionName] = &outcome
		order = append(order, outcome.ActionName)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提案去向失败")
	}
	rows.Close()

	execStmt := `SELECT action_name, COUNT(*) AS executed, SUM(success = 0) AS failed
        FROM agent_executions WHERE 1=1`
	execArgs := []any{}
	if agentID != "" {
		execStmt += " AND agent_id = ?"
		execArgs = append(execArgs, agentID)
	}
	if since > 0 {
		execStmt += " AND created_at >= ?"
		execArgs = append(execArgs, since)
	}
	execStmt += " GROUP BY action_name"

	execRows, err := s.db.QueryContext(ctx, execStmt, execArgs...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "聚合执行去向失败")
	}
	defer execRows.Close()
	for execRows.Next() {
		var name string
		var executed, failed int
		if err := execRows.Scan(&name, &executed, &failed); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行去向失败")
		}
		outcome, ok := outcomes[name]
		if !ok {
			outcome = &ActionOutcome{ActionName: name}
			outcomes[name] = outcome
			order = append(order, name)
		}
		outcome.Executed = executed
		outcome.Failed = failed
	}
	if err := execRows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行去向失败")
	}

	result := make([]ActionOutcome, 0, len(order))
	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, *outcomes[name])
	}
	return result, nil
}

// Stats 返回账本统计。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (LedgerStats, error) {
	opts.applyDefaults()

	var conditions []string
	var args []any
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.ActionName != "" {
		conditions = append(conditions, "action_name = ?")
		args = append(args, opts.ActionName)
	}
	if opts.CreatedGTE > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.CreatedGTE)
	}
	if opts.CreatedLTE > 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.CreatedLTE)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	stats := LedgerStats{}
	proposalStmt := `SELECT COUNT(*),
        SUM(status = 'pending'),
        SUM(status = 'approved'),
        SUM(status = 'rejected'),
        SUM(status = 'approved' AND reviewed_by = agent_id AND review_notes = ''),
        COALESCE(MIN(created_at), 0),
        COALESCE(MAX(created_at), 0)
        FROM agent_proposals` + where

	var pending, approved, rejected, selfApproved sql.NullInt64
	row := s.db.QueryRowContext(ctx, proposalStmt, args...)
	if err := row.Scan(&stats.Total, &pending, &approved, &rejected, &selfApproved,
		&stats.OldestCreatedAt, &stats.NewestCreatedAt); err != nil {
		return LedgerStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计提案失败")
	}
	stats.Pending = int(pending.Int64)
	stats.Approved = int(approved.Int64)
	stats.Rejected = int(rejected.Int64)
	stats.SelfApproved = int(selfApproved.Int64)

	executionStmt := `SELECT COUNT(*),
        SUM(success = 0),
        SUM(outcome = 'correct'),
        SUM(outcome = 'incorrect')
        FROM agent_executions` + where

	var failures, correct, incorrect sql.NullInt64
	row = s.db.QueryRowContext(ctx, executionStmt, args...)
	if err := row.Scan(&stats.Executions, &failures, &correct, &incorrect); err != nil {
		return LedgerStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计执行记录失败")
	}
	stats.ExecutionFailures = int(failures.Int64)
	stats.OutcomeCorrect = int(correct.Int64)
	stats.OutcomeIncorrect = int(incorrect.Int64)
	return stats, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func isDuplicateErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func marshalJSONColumn(value map[string]any) (any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func unmarshalJSONColumn(column sql.NullString, target *map[string]any) error {
	if !column.Valid || strings.TrimSpace(column.String) == "" {
		*target = nil
		return nil
	}
	return json.Unmarshal([]byte(column.String), target)
}
