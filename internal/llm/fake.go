package llm

import (
	"context"
	"fmt"
	"sync"
)

// FakeModel returns scripted responses in order. It records every prompt and
// the temperature it was bound to, for offline runs and tests.
type FakeModel struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	next      int

	Prompts      []string
	Structured   []bool
	Temperatures []float32

	// FailStructured makes InvokeStructured return an error without
	// consuming a scripted response, exercising the free-text fallback.
	FailStructured bool

	temperature float32
}

// NewFakeModel scripts one response per content string, each with a small
// fixed usage sample so token accounting is observable.
func NewFakeModel(contents ...string) *FakeModel {
	f := &FakeModel{}
	for _, c := range contents {
		f.responses = append(f.responses, Response{
			Content: c,
			Usage:   TokenUsage{Prompt: 10, Completion: 5, Total: 15},
		})
	}
	return f
}

// PushError queues an error to be returned before remaining responses.
func (f *FakeModel) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *FakeModel) Name() string { return "fake" }

func (f *FakeModel) Invoke(ctx context.Context, msgs []Message) (Response, error) {
	return f.take(msgs, false)
}

func (f *FakeModel) InvokeStructured(ctx context.Context, msgs []Message, schema Schema) (Response, error) {
	if f.FailStructured {
		return Response{}, fmt.Errorf("fake: structured output unavailable")
	}
	return f.take(msgs, true)
}

// WithTemperature records the binding; the scripted queue is shared so retry
// behavior stays observable through the parent.
func (f *FakeModel) WithTemperature(t float32) ChatModel {
	f.mu.Lock()
	f.temperature = t
	f.Temperatures = append(f.Temperatures, t)
	f.mu.Unlock()
	return f
}

func (f *FakeModel) take(msgs []Message, structured bool) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var prompt string
	for _, m := range msgs {
		prompt += m.Content
	}
	f.Prompts = append(f.Prompts, prompt)
	f.Structured = append(f.Structured, structured)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return Response{}, err
	}
	if f.next >= len(f.responses) {
		return Response{}, fmt.Errorf("fake: no scripted response left (call %d)", f.next+1)
	}
	resp := f.responses[f.next]
	f.next++
	return resp, nil
}
