package llm

import (
	"context"
	"sync"

	jsonx "genie/internal/shared/json"
)

// MockClient implements Client with scripted responses. It backs tests and the
// mock provider used when no API credentials are configured.
type MockClient struct {
	mu        sync.Mutex
	model     string
	scripted  map[string][]string
	failures  map[string]error
	calls     []MockCall
	completed int
}

// MockCall records one Complete invocation.
type MockCall struct {
	PromptName string
	Vars       map[string]string
}

// NewMockClient returns an empty-scripted mock. Prompt names without a script
// get a deterministic canned response so offline runs still produce usable
// output.
func NewMockClient() *MockClient {
	return &MockClient{
		model:    "mock",
		scripted: make(map[string][]string),
		failures: make(map[string]error),
	}
}

// Enqueue queues responses for a prompt name, served in order. The last queued
// response repeats once the queue drains.
func (m *MockClient) Enqueue(promptName string, responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[promptName] = append(m.scripted[promptName], responses...)
}

// FailWith makes every Complete call for the prompt name return err.
func (m *MockClient) FailWith(promptName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[promptName] = err
}

// Calls returns a copy of all recorded invocations in order.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many times the prompt name was completed.
func (m *MockClient) CallCount(promptName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.calls {
		if call.PromptName == promptName {
			count++
		}
	}
	return count
}

func (m *MockClient) Model() string {
	return m.model
}

func (m *MockClient) Complete(ctx context.Context, promptName string, vars map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	varsCopy := make(map[string]string, len(vars))
	for k, v := range vars {
		varsCopy[k] = v
	}
	m.calls = append(m.calls, MockCall{PromptName: promptName, Vars: varsCopy})

	if err, ok := m.failures[promptName]; ok {
		return "", err
	}

	if queue := m.scripted[promptName]; len(queue) > 0 {
		next := queue[0]
		if len(queue) > 1 {
			m.scripted[promptName] = queue[1:]
		}
		return next, nil
	}

	return cannedResponse(promptName, varsCopy), nil
}

// cannedResponse fabricates plausible output per prompt name so the mock
// provider keeps the chat flow working without credentials.
func cannedResponse(promptName string, vars map[string]string) string {
	switch promptName {
	case "extract_task":
		heading := vars["user_input"]
		if heading == "" {
			heading = "Untitled task"
		}
		if runes := []rune(heading); len(runes) > 80 {
			heading = string(runes[:80])
		}
		payload, err := jsonx.Marshal([]map[string]any{{
			"action":  "add",
			"heading": heading,
		}})
		if err != nil {
			return "[]"
		}
		return string(payload)
	case "breakdown_task":
		return `{"subtasks":[` +
			`{"heading":"Outline the work","details":"List the concrete steps and what done looks like.","time_estimate":20},` +
			`{"heading":"Complete the first step","details":"Do the first item from the outline.","time_estimate":25}]}`
	default:
		return "{}"
	}
}
