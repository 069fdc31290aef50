package registry

// AutonomyLevel 表示动作允许的最高自治等级，是一个有序枚举。
type AutonomyLevel string

const (
	AutonomyNotifyOnly AutonomyLevel = "notify-only"
	AutonomySupervised AutonomyLevel = "supervised"
	AutonomyBounded    AutonomyLevel = "bounded"
	AutonomyAutonomous AutonomyLevel = "autonomous"
)

var autonomyRanks = map[AutonomyLevel]int{
	AutonomyNotifyOnly: 0,
	AutonomySupervised: 1,
	AutonomyBounded:    2,
	AutonomyAutonomous: 3,
}

// Rank 返回自治等级的序数，未知等级按最低等级处理。
func (l AutonomyLevel) Rank() int {
	if rank, ok := autonomyRanks[l]; ok {
		return rank
	}
	return 0
}

// Valid 检查自治等级是否为支持的枚举值。
func (l AutonomyLevel) Valid() bool {
	_, ok := autonomyRanks[l]
	return ok
}

// AllowsSelfApproval 判断该等级下的提案是否可以免人工审阅直接执行。
func (l AutonomyLevel) AllowsSelfApproval() bool {
	return l.Rank() >= AutonomyBounded.Rank()
}

// RiskLevel 表示动作的风险档位。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid 检查风险档位是否为支持的枚举值。
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Action 描述智能体可调用的一项具名能力。运行期对智能体只读，
// 只能通过目录文件的显式变更来修改。
type Action struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	AutonomyLevel AutonomyLevel `yaml:"autonomy_level"`
	RiskLevel     RiskLevel     `yaml:"risk_level"`
	Reversible    bool          `yaml:"reversible"`
	Enabled       bool          `yaml:"enabled"`
	MinConfidence float64       `yaml:"min_confidence"`
}
