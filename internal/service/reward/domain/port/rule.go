package port

// Fact 是传给规则引擎的事实集合（用户属性、余额等）。
type Fact map[string]interface{}

// RuleEngine 评估赞助商自定义的附加资格规则（offer.RuleDefinition）。
// 由基础设施层实现（CEL 适配器），领域层不感知具体的表达式语言。
type RuleEngine interface {
	// Evaluate 返回规则是否通过。规则本身语法错误时返回 error。
	Evaluate(ruleDefinition string, fact Fact) (bool, error)
}
