package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "AgentGov-Core/internal/errors"
)

// Catalog models the structure of configs/actions.yaml.
type Catalog struct {
	Actions []Action `yaml:"actions"`
}

const (
	CodeActionNotFound xerrors.Code = "ACTION_NOT_FOUND"
	CodeActionDisabled xerrors.Code = "ACTION_DISABLED"
)

var (
	// ErrActionNotFound 表示目录中不存在指定动作。
	ErrActionNotFound = xerrors.New(CodeActionNotFound, "action not found")
	// ErrActionDisabled 表示动作已在目录中停用，提案阶段必须拒绝。
	ErrActionDisabled = xerrors.New(CodeActionDisabled, "action disabled")
)

func init() {
	xerrors.Register(CodeActionNotFound, xerrors.Attributes{
		Message:   "action not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeActionDisabled, xerrors.Attributes{
		Message:   "action disabled",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Registry 持有动作目录，向边界门与提案方提供只读查询。
type Registry struct {
	actions map[string]Action
}

// New 从给定动作列表构建 Registry，重复与非法条目会被拒绝。
func New(actions []Action) (*Registry, error) {
	set := make(map[string]Action, len(actions))
	for _, action := range actions {
		name := strings.TrimSpace(action.Name)
		if name == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "动作名称不能为空")
		}
		if _, ok := set[name]; ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("动作 %s 重复定义", name))
		}
		if !action.AutonomyLevel.Valid() {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("动作 %s 的自治等级非法: %s", name, action.AutonomyLevel))
		}
		if !action.RiskLevel.Valid() {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("动作 %s 的风险档位非法: %s", name, action.RiskLevel))
		}
		if action.MinConfidence < 0 || action.MinConfidence > 1 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("动作 %s 的置信度下限越界: %f", name, action.MinConfidence))
		}
		action.Name = name
		set[name] = action
	}
	return &Registry{actions: set}, nil
}

// LoadCatalog parses the YAML file containing the action catalog.
func LoadCatalog(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return New(nil)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取动作目录失败: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("解析动作目录失败: %w", err)
	}
	return New(catalog.Actions)
}

// Get 按名称返回动作定义。未知动作返回 ErrActionNotFound。
func (r *Registry) Get(name string) (Action, error) {
	if r == nil {
		return Action{}, xerrors.New(xerrors.CodeInitializationFailure, "动作目录未初始化")
	}
	action, ok := r.actions[name]
	if !ok {
		return Action{}, ErrActionNotFound
	}
	return action, nil
}

// List 返回目录中的全部动作，按名称排序，便于展示与测试。
func (r *Registry) List() []Action {
	if r == nil {
		return nil
	}
	actions := make([]Action, 0, len(r.actions))
	for _, action := range r.actions {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}
