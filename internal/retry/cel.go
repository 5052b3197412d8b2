package retry

import (
	"errors"
	"strings"

	"github.com/google/cel-go/cel"
)

// coder is implemented by sink errors that carry a numeric status code
// (HTTP status, broker error code).
type coder interface {
	Code() int
}

// NewCELClassifier compiles a CEL expression into a Classifier. The
// expression sees:
//
//	message (string) - the error text
//	code    (int)    - sink status code, 0 when absent
//
// and must evaluate to a bool: true means Terminal. An empty expression
// yields the DefaultClassifier. Errors that classify themselves via
// Terminal() are honored before the expression runs, so a CEL rule only
// decides the ambiguous cases.
func NewCELClassifier(expr string) (Classifier, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return DefaultClassifier, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("message", cel.StringType),
		cel.Variable("code", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return func(err error) Class {
		var t terminaler
		if errors.As(err, &t) {
			if t.Terminal() {
				return ClassTerminal
			}
			return ClassRetryable
		}
		code := 0
		var c coder
		if errors.As(err, &c) {
			code = c.Code()
		}
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		out, _, evalErr := prog.Eval(map[string]any{
			"message": msg,
			"code":    int64(code),
		})
		if evalErr != nil {
			// Fail open: an unevaluable rule must not cause data loss.
			return ClassRetryable
		}
		if b, ok := out.Value().(bool); ok && b {
			return ClassTerminal
		}
		return ClassRetryable
	}, nil
}
