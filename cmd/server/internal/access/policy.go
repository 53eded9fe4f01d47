// Package access 会议公开访问策略判定
package access

import (
	"time"

	"github.com/omniqr/scansuite/cmd/server/internal/models"
)

// 拒绝原因
const (
	ReasonNotStarted       = "Access window has not started"
	ReasonEnded            = "Access window ended"
	ReasonPrivate          = "Meeting is private"
	ReasonPasswordRequired = "Password required"
)

// Decision 判定结果
type Decision struct {
	Allowed          bool              `json:"allowed"`
	RequiresPassword bool              `json:"requiresPassword"`
	Reason           string            `json:"reason,omitempty"`
	AccessType       models.AccessType `json:"accessType"`
}

// Evaluate 判定访问策略，规则按顺序匹配，先命中者生效：
//  1. 无策略 → 允许（PUBLIC）
//  2. 时间窗未开始 → 拒绝（优先于访问类型）
//  3. 时间窗已结束 → 拒绝
//  4. PRIVATE 或未知类型 → 拒绝，密码不可绕过
//  5. PASSWORD 且未持有已验证令牌 → 需要密码
//  6. 其余允许
//
// oneTimeAccess / viewOnly 不参与判定。
func Evaluate(policy *models.AccessPolicy, now time.Time, bypassPassword bool) Decision {
	if policy == nil {
		return Decision{Allowed: true, AccessType: models.AccessPublic}
	}

	d := Decision{AccessType: policy.AccessType}
	switch {
	case policy.AccessStartsAt != nil && now.Before(*policy.AccessStartsAt):
		d.Reason = ReasonNotStarted
	case policy.AccessEndsAt != nil && now.After(*policy.AccessEndsAt):
		d.Reason = ReasonEnded
	case policy.AccessType == models.AccessPrivate || !policy.AccessType.Valid():
		d.Reason = ReasonPrivate
	case policy.AccessType == models.AccessPassword && !bypassPassword:
		d.RequiresPassword = true
		d.Reason = ReasonPasswordRequired
	default:
		d.Allowed = true
	}
	return d
}
