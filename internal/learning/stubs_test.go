package learning

import (
	"context"

	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/ledger"
)

var errStubDown = xerrors.New(xerrors.CodeStorageFailure, "storage down")

// failingRepository 的所有查询都失败, 用于验证降级路径。
type failingRepository struct{}

func (failingRepository) SaveLearning(context.Context, *Learning) error { return errStubDown }
func (failingRepository) SetLearningState(context.Context, string, State) error {
	return errStubDown
}
func (failingRepository) ListLearnings(context.Context, string, Kind, State) ([]*Learning, error) {
	return nil, errStubDown
}
func (failingRepository) LatestLearning(context.Context, string, string, Kind, State) (*Learning, error) {
	return nil, errStubDown
}
func (failingRepository) UpsertPattern(context.Context, *MistakePattern) error { return errStubDown }
func (failingRepository) ListPatterns(context.Context, string, bool) ([]*MistakePattern, error) {
	return nil, errStubDown
}
func (failingRepository) SaveRule(context.Context, *CorrectionRule) error { return errStubDown }
func (failingRepository) ListRules(context.Context, string, string) ([]*CorrectionRule, error) {
	return nil, errStubDown
}
func (failingRepository) Close() error { return nil }

// failingLedger 的所有账本查询都失败。
type failingLedger struct{}

func (failingLedger) CreateProposal(context.Context, *ledger.Proposal) error { return errStubDown }
func (failingLedger) GetProposal(context.Context, string) (*ledger.Proposal, error) {
	return nil, errStubDown
}
func (failingLedger) ListProposals(context.Context, ledger.ListOptions) ([]*ledger.Proposal, error) {
	return nil, errStubDown
}
func (failingLedger) Review(context.Context, string, ledger.Status, string, string) (*ledger.Proposal, error) {
	return nil, errStubDown
}
func (failingLedger) SetCoordinationStatus(context.Context, string, ledger.CoordinationStatus) error {
	return errStubDown
}
func (failingLedger) SetResult(context.Context, string, map[string]any) error { return errStubDown }
func (failingLedger) ListChildren(context.Context, string) ([]*ledger.Proposal, error) {
	return nil, errStubDown
}
func (failingLedger) CreateExecution(context.Context, *ledger.Execution) error { return errStubDown }
func (failingLedger) GetExecution(context.Context, string) (*ledger.Execution, error) {
	return nil, errStubDown
}
func (failingLedger) GetExecutionByProposal(context.Context, string) (*ledger.Execution, error) {
	return nil, errStubDown
}
func (failingLedger) RecordOutcome(context.Context, string, ledger.ReviewOutcome, string, string) error {
	return errStubDown
}
func (failingLedger) MistakeGroups(context.Context, string, int64, int) ([]ledger.MistakeGroup, error) {
	return nil, errStubDown
}
func (failingLedger) CalibrationRows(context.Context, string, int64) ([]ledger.CalibrationRow, error) {
	return nil, errStubDown
}
func (failingLedger) ActionOutcomes(context.Context, string, int64) ([]ledger.ActionOutcome, error) {
	return nil, errStubDown
}
func (failingLedger) Stats(context.Context, ledger.ListOptions) (ledger.LedgerStats, error) {
	return ledger.LedgerStats{}, errStubDown
}
func (failingLedger) Close() error { return nil }
