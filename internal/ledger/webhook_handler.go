package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	xerrors "AgentGov-Core/internal/errors"
)

// WebhookHandler 把已批准的提案投递给拥有它的智能体进程执行。
// 每个智能体暴露一个回调地址，治理核心不关心动作具体怎么跑，
// 只接收 {success, result, error} 形式的回执。
type WebhookHandler struct {
	endpoints map[string]string
	fallback  string
	client    *http.Client
}

var _ Handler = (*WebhookHandler)(nil)

// NewWebhookHandler 创建 WebhookHandler。endpoints 以智能体 ID 为键，
// fallback 在没有专属地址时使用，允许为空。
func NewWebhookHandler(endpoints map[string]string, fallback string, client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	copied := make(map[string]string, len(endpoints))
	for agent, endpoint := range endpoints {
		copied[agent] = endpoint
	}
	return &WebhookHandler{endpoints: copied, fallback: fallback, client: client}
}

type webhookReply struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Execute 实现 Handler。
func (h *WebhookHandler) Execute(ctx context.Context, invocation Invocation) (map[string]any, error) {
	endpoint, ok := h.endpoints[invocation.AgentID]
	if !ok {
		endpoint = h.fallback
	}
	if endpoint == "" {
		return nil, xerrors.New(xerrors.CodeHandlerFailure,
			"智能体 "+invocation.AgentID+" 没有配置执行回调地址")
	}

	body, err := json.Marshal(invocation)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeHandlerFailure, err, "序列化执行请求失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeHandlerFailure, err, "构造执行请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeHandlerFailure, err, "投递执行请求失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, xerrors.New(xerrors.CodeHandlerFailure,
			"执行回调返回 "+resp.Status+": "+string(bytes.TrimSpace(data)))
	}

	var reply webhookReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeHandlerFailure, err, "解析执行回执失败")
	}
	if !reply.Success {
		message := reply.Error
		if message == "" {
			message = "执行回调报告失败"
		}
		return reply.Result, xerrors.New(xerrors.CodeHandlerFailure, message)
	}
	return reply.Result, nil
}
