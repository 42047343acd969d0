// internal/service/reward/domain/ledger.go
package domain

import "time"

// LedgerReason 标记一条账本流水的业务含义。
type LedgerReason string

const (
	LedgerReasonSpend LedgerReason = "SPEND" // 兑换扣费，Delta 为负
	LedgerReasonBonus LedgerReason = "BONUS" // 兑换奖励，Delta 为正
)

// LedgerEntry 是积分账本的一条流水。
// 一次带奖励的兑换会在同一个事务里写入两条流水（SPEND + BONUS），
// 不做轧差，下游的对账和分析必须能看到完整的两腿。
type LedgerEntry struct {
	ID           string
	UserID       string
	Delta        int64 // 正数为入账，负数为出账
	Reason       LedgerReason
	RedemptionID string
	CreatedAt    time.Time
}
