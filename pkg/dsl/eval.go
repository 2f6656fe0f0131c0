// Package dsl 提供基于 CEL 的候选准入规则。
//
// 规则在配置中声明，启动时编译一次，每个请求在进入模型计算之前求值；
// 任一规则返回 false 即拒绝请求（INVALID_INPUT）。
//
// 表达式语法（CEL 标准语法），变量 candidate 的字段：
//   - title (string) / title_length (int，按字符计)
//   - video_length (string, "HH:MM:SS")
//   - subscribers / total_views / total_videos / channel_age_years (int)
//   - day (int, 0–6) / hour (int, 0–23)
//   - thumbnail_bytes (int)
//
// 示例：
//   - `candidate.title_length <= 100`
//   - `candidate.thumbnail_bytes < 2097152`
//   - `candidate.subscribers == 0 || candidate.total_videos > 0`
//   - `!candidate.title.contains("http")`
package dsl

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/ctrkit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("candidate", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// Rule 一条准入规则。
type Rule struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleSet 已编译的规则集合，可并发使用。
type RuleSet struct {
	rules []compiledRule
}

// Compile 编译规则。语法错误或返回值不是 bool 时返回 CONFIGURATION。
func Compile(rules []Rule) (*RuleSet, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, err, "cel env")
	}
	rs := &RuleSet{}
	for i, r := range rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule_%d", i)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, issues.Err(), "rule %s: compile", r.Name)
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, core.NewConfigurationError(core.ModuleService, "rule %s: expression returns %s, want bool", r.Name, out)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, err, "rule %s: program", r.Name)
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, prg: prg})
	}
	return rs, nil
}

// Len 规则数量
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Admit 按声明顺序求值，第一个不通过的规则决定错误信息。
// 空规则集总是通过。
func (rs *RuleSet) Admit(c *core.RawCandidate) error {
	if rs.Len() == 0 {
		return nil
	}
	input := map[string]any{"candidate": buildInput(c)}
	for _, r := range rs.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "rule %s: eval", r.Name)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return core.NewValidationError(core.ModuleService, "rule %s: expression must return boolean, got %T", r.Name, out.Value())
		}
		if !ok {
			msg := r.Message
			if msg == "" {
				msg = r.Expr
			}
			return core.NewValidationError(core.ModuleService, "rule %s rejected candidate: %s", r.Name, msg)
		}
	}
	return nil
}

// buildInput 构建 CEL 表达式的输入数据
func buildInput(c *core.RawCandidate) map[string]any {
	return map[string]any{
		"title":             c.Title,
		"title_length":      int64(utf8.RuneCountInString(c.Title)),
		"video_length":      c.VideoLength,
		"subscribers":       c.ChannelSubscribers,
		"total_views":       c.TotalChannelViews,
		"total_videos":      c.TotalVideos,
		"channel_age_years": c.ChannelAgeYears,
		"day":               int64(c.UploadDayOfWeek),
		"hour":              int64(c.UploadHour),
		"thumbnail_bytes":   int64(len(c.Thumbnail)),
	}
}
