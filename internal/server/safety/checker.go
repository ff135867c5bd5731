// Package safety decides whether a secret is fit to be stored, by asking a
// breach-exposure service before the vault persists it.
package safety

import "context"

// Verdict is the outcome of a completed check.
type Verdict struct {
	Safe      bool
	Reason    string
	Exposures int
}

// Checker inspects a plaintext secret. An error wrapping
// common.ErrDependencyUnavailable means the secret could not be verified.
type Checker interface {
	Check(ctx context.Context, secret string) (Verdict, error)
}

// Off approves everything. It backs the "off" configuration.
type Off struct{}

func (Off) Check(context.Context, string) (Verdict, error) {
	return Verdict{Safe: true, Reason: "safety check disabled"}, nil
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, secret string) (Verdict, error)

func (f CheckerFunc) Check(ctx context.Context, secret string) (Verdict, error) {
	return f(ctx, secret)
}
