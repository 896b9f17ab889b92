package query

import (
	"fmt"
	"strings"

	"github.com/INLOpen/nexuslog/core"
	"github.com/google/cel-go/cel"
)

// Expression is a compiled CEL filter over a call record, e.g.
//
//	status >= 500 && path.startsWith("/api/orders")
//
// Variables: id, host, time_ms, path, method, params, headers, client_ip,
// status, body, exception, duration_ms.
type Expression struct {
	src  string
	prog cel.Program
}

func CompileExpression(expr string) (*Expression, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("time_ms", cel.IntType),
		cel.Variable("path", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("params", cel.StringType),
		cel.Variable("headers", cel.StringType),
		cel.Variable("client_ip", cel.StringType),
		cel.Variable("status", cel.IntType),
		cel.Variable("body", cel.StringType),
		cel.Variable("exception", cel.StringType),
		cel.Variable("duration_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Expression{src: expr, prog: prog}, nil
}

func (e *Expression) String() string { return e.src }

// Match evaluates the expression; evaluation errors count as no match.
func (e *Expression) Match(rec *core.CallRecord) bool {
	out, _, err := e.prog.Eval(map[string]any{
		"id":          rec.ID,
		"host":        rec.Hostname,
		"time_ms":     rec.RequestTime,
		"path":        rec.Path,
		"method":      rec.Method,
		"params":      rec.RequestParams,
		"headers":     rec.RequestHeaders,
		"client_ip":   rec.ClientIP,
		"status":      int64(rec.StatusCode),
		"body":        rec.ResponseBody,
		"exception":   rec.ExceptionMsg,
		"duration_ms": rec.ExecutionTime,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
