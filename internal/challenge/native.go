package challenge

import (
	"context"

	dErrors "ravegate/pkg/domain-errors"
)

// Prompter presents the platform's visible challenge UI and returns the
// resulting proof once the user completes it.
type Prompter interface {
	Present(ctx context.Context) (Token, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context) (Token, error)

func (f PrompterFunc) Present(ctx context.Context) (Token, error) {
	return f(ctx)
}

// Native is the native-client variant. Readiness is immediate; the visible
// challenge is presented on demand during the code request, never ahead of
// time.
type Native struct {
	prompt Prompter
}

func NewNative(prompt Prompter) *Native {
	return &Native{prompt: prompt}
}

// Prepare is a no-op; the native variant has no preparation step.
func (p *Native) Prepare(_ context.Context) error {
	return nil
}

// Token presents the visible challenge and returns its proof.
func (p *Native) Token(ctx context.Context) (Token, error) {
	tok, err := p.prompt.Present(ctx)
	if err != nil {
		return Token{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "present challenge")
	}
	return tok, nil
}

func (p *Native) Reset() {}

func (p *Native) Close() {}
