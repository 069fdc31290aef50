package registry

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "AgentGov-Core/internal/errors"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name    string
		actions []Action
		wantErr bool
	}{
		{
			name: "合法目录",
			actions: []Action{
				{Name: "send-email", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow, Enabled: true, MinConfidence: 0.5},
			},
		},
		{
			name: "动作名为空",
			actions: []Action{
				{Name: "", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow},
			},
			wantErr: true,
		},
		{
			name: "动作名重复",
			actions: []Action{
				{Name: "send-email", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow},
				{Name: "send-email", AutonomyLevel: AutonomySupervised, RiskLevel: RiskLow},
			},
			wantErr: true,
		},
		{
			name: "非法自治等级",
			actions: []Action{
				{Name: "send-email", AutonomyLevel: "yolo", RiskLevel: RiskLow},
			},
			wantErr: true,
		},
		{
			name: "非法风险等级",
			actions: []Action{
				{Name: "send-email", AutonomyLevel: AutonomyBounded, RiskLevel: "extreme"},
			},
			wantErr: true,
		},
		{
			name: "置信度下限越界",
			actions: []Action{
				{Name: "send-email", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow, MinConfidence: 1.5},
			},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.actions)
			if tc.wantErr && err == nil {
				t.Fatal("期望校验失败")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("意外错误: %v", err)
			}
		})
	}
}

func TestGet(t *testing.T) {
	reg, err := New([]Action{
		{Name: "send-email", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow, Enabled: true, MinConfidence: 0.5},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	action, err := reg.Get("send-email")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if action.Name != "send-email" {
		t.Fatalf("意外的动作: %+v", action)
	}

	if _, err := reg.Get("missing"); xerrors.CodeOf(err) != CodeActionNotFound {
		t.Fatalf("期望 ACTION_NOT_FOUND, 实际 %v", err)
	}
}

func TestListSorted(t *testing.T) {
	reg, err := New([]Action{
		{Name: "zeta", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow},
		{Name: "alpha", AutonomyLevel: AutonomyBounded, RiskLevel: RiskLow},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	actions := reg.List()
	if len(actions) != 2 || actions[0].Name != "alpha" || actions[1].Name != "zeta" {
		t.Fatalf("期望按名称排序, 实际 %+v", actions)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actions.yaml")
	catalog := `actions:
  - name: send-email
    description: 发送外联邮件
    autonomy_level: bounded
    risk_level: low
    reversible: true
    enabled: true
    min_confidence: 0.6
  - name: drop-table
    autonomy_level: autonomous
    risk_level: high
    reversible: false
    enabled: true
    min_confidence: 0.9
`
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatalf("写入目录文件: %v", err)
	}

	reg, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	action, err := reg.Get("drop-table")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if action.RiskLevel != RiskHigh || action.Reversible {
		t.Fatalf("目录字段解析错误: %+v", action)
	}
}

func TestLoadCatalogEmptyPath(t *testing.T) {
	reg, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatal("空路径应产生空目录")
	}
}

func TestAutonomyRankOrdering(t *testing.T) {
	levels := []AutonomyLevel{AutonomyNotifyOnly, AutonomySupervised, AutonomyBounded, AutonomyAutonomous}
	for i := 1; i < len(levels); i++ {
		if levels[i-1].Rank() >= levels[i].Rank() {
			t.Fatalf("%s 应低于 %s", levels[i-1], levels[i])
		}
	}
	if AutonomySupervised.AllowsSelfApproval() {
		t.Fatal("supervised 不允许自审批")
	}
	if !AutonomyBounded.AllowsSelfApproval() {
		t.Fatal("bounded 允许自审批")
	}
}
