// internal/service/reward/domain/sponsor.go
package domain

// SponsorAggregate 是赞助商维度的冗余汇总。
// 两个计数器在本引擎中单调不减；营收回退只能走独立的退款工作流，
// reward 引擎自身永远不会减少它们。
type SponsorAggregate struct {
	SponsorID        string
	Name             string
	TotalRedemptions int64
	TotalRevenue     float64
}
