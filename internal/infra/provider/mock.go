package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/vietddude/lingo/internal/core/domain"
)

// ScriptFunc decides the outcome of one mock call.
type ScriptFunc func(call int, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome

// Call records one invocation of the mock.
type Call struct {
	Credential string
	Unit       int
	Payload    string
	Style      domain.Style
}

// Mock is a scripted adapter. Without a script it echoes each payload
// tagged with the target language, which is what dry runs use.
type Mock struct {
	mu     sync.Mutex
	script ScriptFunc
	calls  []Call
}

// NewEcho returns a mock that tags every line with the target language.
func NewEcho() *Mock {
	return &Mock{}
}

// NewMock returns a mock driven by script.
func NewMock(script ScriptFunc) *Mock {
	return &Mock{script: script}
}

func (m *Mock) Translate(ctx context.Context, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, Call{Credential: cred.ID, Unit: unit.Index, Payload: unit.Payload, Style: style})
	script := m.script
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Failure(&domain.ProviderError{Message: err.Error(), Cause: err})
	}
	if script != nil {
		return script(n, cred, unit, style)
	}
	return domain.Success(Echo(unit.Payload, style.TargetLanguage))
}

// Calls returns a copy of the recorded invocations.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Echo prefixes every non-empty line of text with [lang].
func Echo(text, lang string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = "[" + lang + "] " + l
		}
	}
	return strings.Join(lines, "\n")
}
