package policy

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// evaluateCustom compiles and evaluates CEL expressions over the decoded
// credential and the verification context. A compile error, a runtime
// error, a non-boolean result, or false all register as violations.
func evaluateCustom(p *Payload, ctx *Context, exprs []string) []string {
	env, err := cel.NewEnv(
		cel.Variable("credential", cel.DynType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return []string{fmt.Sprintf("custom constraint environment failed: %v", err)}
	}

	credMap, err := toMap(p)
	if err != nil {
		return []string{fmt.Sprintf("custom constraint input failed: %v", err)}
	}
	ctxMap, err := toMap(ctx)
	if err != nil {
		return []string{fmt.Sprintf("custom constraint input failed: %v", err)}
	}

	var violations []string
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			violations = append(violations, fmt.Sprintf("custom constraint %q does not compile: %v", expr, issues.Err()))
			continue
		}
		prg, err := env.Program(ast)
		if err != nil {
			violations = append(violations, fmt.Sprintf("custom constraint %q program failed: %v", expr, err))
			continue
		}
		out, _, err := prg.Eval(map[string]any{
			"credential": credMap,
			"context":    ctxMap,
		})
		if err != nil {
			violations = append(violations, fmt.Sprintf("custom constraint %q evaluation failed: %v", expr, err))
			continue
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			violations = append(violations, fmt.Sprintf("custom constraint %q is not boolean", expr))
			continue
		}
		if !ok {
			violations = append(violations, fmt.Sprintf("custom constraint %q violated", expr))
		}
	}
	return violations
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
