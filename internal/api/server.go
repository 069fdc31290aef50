// Package api 暴露治理核心的 REST 接口：提案登记与查询、人工审阅、
// 执行反馈，以及学习引擎的只读视图。审阅界面只通过这里读写账本。
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentGov-Core/internal/bounds"
	"AgentGov-Core/internal/coordination"
	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/learning"
	"AgentGov-Core/internal/ledger"
	"AgentGov-Core/internal/observability/metrics"
	"AgentGov-Core/internal/registry"
)

// Server 负责暴露 REST 接口，供审阅界面与外部智能体驱动治理核心。
type Server struct {
	addr   string
	svc    *ledger.Service
	engine *learning.Engine
	coord  *coordination.Coordinator
}

// NewServer 构造 API 服务实例。engine 与 coord 允许为 nil，
// 对应的接口会返回 503。
func NewServer(addr string, svc *ledger.Service, engine *learning.Engine, coord *coordination.Coordinator) *Server {
	return &Server{addr: addr, svc: svc, engine: engine, coord: coord}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整路由，便于在测试里直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/proposals", s.instrument("proposals", s.handleCreateProposal))
	mux.Handle("GET /api/v1/proposals", s.instrument("proposals", s.handleListProposals))
	mux.Handle("GET /api/v1/proposals/{id}", s.instrument("proposal", s.handleGetProposal))
	mux.Handle("POST /api/v1/proposals/{id}/review", s.instrument("review", s.handleReview))
	mux.Handle("GET /api/v1/proposals/{id}/execution", s.instrument("execution", s.handleGetExecution))
	mux.Handle("GET /api/v1/proposals/{id}/subtasks", s.instrument("subtasks", s.handleSubTaskResults))
	mux.Handle("POST /api/v1/executions/{id}/feedback", s.instrument("feedback", s.handleFeedback))
	mux.Handle("GET /api/v1/stats", s.instrument("stats", s.handleStats))
	mux.Handle("GET /api/v1/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/v1/agents/{id}/suggestions", s.instrument("suggestions", s.handleSuggestions))
	mux.Handle("GET /api/v1/agents/{id}/guidance", s.instrument("guidance", s.handleGuidance))
	mux.Handle("POST /api/v1/learnings/{id}/apply", s.instrument("learning_apply", s.handleApplyLearning))
	mux.Handle("POST /api/v1/learnings/{id}/reject", s.instrument("learning_reject", s.handleRejectLearning))
	return mux
}

// CreateProposalRequest 是提案接口的请求体。
type CreateProposalRequest struct {
	ID         string           `json:"id,omitempty"`
	AgentID    string           `json:"agent_id"`
	ActionName string           `json:"action_name"`
	Params     map[string]any   `json:"params,omitempty"`
	Reasoning  ledger.Reasoning `json:"reasoning"`
	Priority   ledger.Priority  `json:"priority,omitempty"`
	ParentID   string           `json:"parent_id,omitempty"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	proposal, err := s.svc.Propose(r.Context(), ledger.ProposalRequest{
		ID:         req.ID,
		AgentID:    req.AgentID,
		ActionName: req.ActionName,
		Params:     req.Params,
		Reasoning:  req.Reasoning,
		Priority:   req.Priority,
		ParentID:   req.ParentID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := []ledger.ListOption{}
	query := r.URL.Query()
	if agent := query.Get("agent"); agent != "" {
		opts = append(opts, ledger.WithAgent(agent))
	}
	if action := query.Get("action"); action != "" {
		opts = append(opts, ledger.WithAction(action))
	}
	if rawStatus := query.Get("status"); rawStatus != "" {
		statuses := make([]ledger.Status, 0, 2)
		for _, part := range strings.Split(rawStatus, ",") {
			statuses = append(statuses, ledger.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, ledger.WithStatuses(statuses...))
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, ledger.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, ledger.WithOffset(parsed))
		}
	}
	if order := query.Get("order"); order == "created_desc" {
		opts = append(opts, ledger.WithSortOrder(ledger.SortByCreatedDesc))
	}

	proposals, err := s.svc.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}
	proposal, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

// ReviewRequest 是审阅接口的请求体。
type ReviewRequest struct {
	Approve    bool   `json:"approve"`
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes,omitempty"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.ReviewedBy == "" {
		http.Error(w, "reviewed_by 不能为空", http.StatusBadRequest)
		return
	}

	proposal, err := s.svc.Review(r.Context(), r.PathValue("id"), req.Approve, req.ReviewedBy, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}
	execution, err := s.svc.Execution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleSubTaskResults(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		http.Error(w, "协同层未初始化", http.StatusServiceUnavailable)
		return
	}
	results, err := s.coord.GetSubTaskResults(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// FeedbackRequest 是执行反馈接口的请求体。
type FeedbackRequest struct {
	Outcome         ledger.ReviewOutcome `json:"outcome"`
	MistakeCategory string               `json:"mistake_category,omitempty"`
	Notes           string               `json:"notes,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	if err := s.svc.RecordFeedback(r.Context(), r.PathValue("id"), req.Outcome, req.MistakeCategory, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := []ledger.ListOption{}
	if agent := r.URL.Query().Get("agent"); agent != "" {
		opts = append(opts, ledger.WithAgent(agent))
	}
	stats, err := s.svc.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "学习引擎未初始化", http.StatusServiceUnavailable)
		return
	}

	raw := r.URL.Query().Get("agents")
	if raw == "" {
		http.Error(w, "agents 参数不能为空", http.StatusBadRequest)
		return
	}
	agents := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			agents = append(agents, trimmed)
		}
	}

	health, err := s.engine.EvaluateHealth(r.Context(), agents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "学习引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	suggestions, err := s.engine.SuggestBoundAdjustments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleGuidance(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "学习引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	guidance := s.engine.ConsultLearnings(r.Context(), r.PathValue("id"), r.URL.Query().Get("action"))
	if guidance == nil {
		guidance = []learning.Guidance{}
	}
	writeJSON(w, http.StatusOK, guidance)
}

func (s *Server) handleApplyLearning(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "学习引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	if err := s.engine.ApplyLearning(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRejectLearning(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "学习引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	if err := s.engine.RejectLearning(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// instrument 包装处理函数并上报请求指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把错误码映射为 HTTP 状态码，响应体携带错误码便于
// 客户端分支处理。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case ledger.CodeProposalNotFound, registry.CodeActionNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case ledger.CodeAlreadyReviewed, ledger.CodeProposalConflict, learning.CodeLearningConflict:
		status = http.StatusConflict
	case bounds.CodeBoundsViolation, registry.CodeActionDisabled:
		status = http.StatusUnprocessableEntity
	case xerrors.CodeInvalidArgument, ledger.CodeProposalValidation:
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(code),
		"message": err.Error(),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
