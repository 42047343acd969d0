// internal/service/reward/infrastructure/rule/cel_engine.go
package rule

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"courtside/internal/service/reward/domain/port"
)

// CELRuleEngine 是 port.RuleEngine 的 CEL 实现。
// 赞助商在活动上配置的附加资格规则是一条 CEL 表达式，例如：
//
//	user.tier == "PREMIUM" || user.points_balance > 1000
//
// 表达式在首次使用时编译并缓存；同一条规则会被每次兑换反复评估，
// 重复编译的开销不可接受。
type CELRuleEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELRuleEngine 创建规则引擎。
// 环境里只声明 user / offer 两个事实变量，规则不能触达其他任何状态。
func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("offer", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	return &CELRuleEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate 评估一条规则。规则必须返回布尔值，返回其他类型按规则
// 定义错误处理。
func (e *CELRuleEngine) Evaluate(ruleDefinition string, fact port.Fact) (bool, error) {
	prg, err := e.program(ruleDefinition)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}(fact))
	if err != nil {
		return false, errors.Wrap(err, "evaluate rule")
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("rule must evaluate to a boolean, got %T", out.Value())
	}
	return result, nil
}

// program 返回编译好的程序，优先读缓存。
func (e *CELRuleEngine) program(ruleDefinition string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[ruleDefinition]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(ruleDefinition)
	if iss.Err() != nil {
		return nil, errors.Wrap(iss.Err(), "compile rule")
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build rule program")
	}

	e.mu.Lock()
	e.programs[ruleDefinition] = prg
	e.mu.Unlock()
	return prg, nil
}
