package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeChats struct {
	mu      sync.Mutex
	created []createdChat
	queue   []fakeReply
}

type createdChat struct {
	model  string
	config *genai.GenerateContentConfig
	chat   *fakeChat
}

type fakeReply struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeChat struct {
	reply fakeReply
	sent  []string
}

func (f *fakeChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, part := range parts {
		f.sent = append(f.sent, part.Text)
	}
	return f.reply.resp, f.reply.err
}

func (f *fakeChats) push(resp *genai.GenerateContentResponse, err error) {
	f.queue = append(f.queue, fakeReply{resp: resp, err: err})
}

func (f *fakeChats) Create(_ context.Context, model string, config *genai.GenerateContentConfig, _ []*genai.Content) (chatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	reply := f.queue[0]
	f.queue = f.queue[1:]
	chat := &fakeChat{reply: reply}
	f.created = append(f.created, createdChat{model: model, config: config, chat: chat})
	return chat, nil
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	original := sleep
	sleep = func(d time.Duration) { delays = append(delays, d) }
	t.Cleanup(func() { sleep = original })
	return &delays
}

func newTestGenerator(chats *fakeChats, retries int) *Generator {
	return &Generator{chats: chats, model: "gemini-test", maxRetries: retries, logger: zap.NewNop()}
}

func TestGeneratorSetsSystemInstruction(t *testing.T) {
	chats := &fakeChats{}
	chats.push(textResponse(&genai.Part{Text: `{"message":"hey"}`}), nil)

	out, err := newTestGenerator(chats, 1).GenerateContent(context.Background(), "persona", "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"message":"hey"}` {
		t.Fatalf("unexpected output %q", out)
	}

	call := chats.created[0]
	if call.model != "gemini-test" {
		t.Fatalf("unexpected model %q", call.model)
	}
	if call.config.SystemInstruction == nil || call.config.SystemInstruction.Parts[0].Text != "persona" {
		t.Fatalf("expected system instruction to be set")
	}
	if len(call.chat.sent) != 1 || call.chat.sent[0] != "hello there" {
		t.Fatalf("unexpected chat messages %+v", call.chat.sent)
	}
}

func TestGeneratorRetriesOnServerError(t *testing.T) {
	delays := noSleep(t)

	chats := &fakeChats{}
	chats.push(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	chats.push(textResponse(&genai.Part{Text: "retry ok"}), nil)

	out, err := newTestGenerator(chats, 2).GenerateContent(context.Background(), "sys", "msg")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "retry ok" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(chats.created) != 2 || len(*delays) != 1 {
		t.Fatalf("expected one retry, got %d calls and %d sleeps", len(chats.created), len(*delays))
	}
}

func TestGeneratorStopsAfterRetriesExhausted(t *testing.T) {
	noSleep(t)

	chats := &fakeChats{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	chats.push(nil, tempErr)
	chats.push(nil, tempErr)

	_, err := newTestGenerator(chats, 2).GenerateContent(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
	if len(chats.created) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(chats.created))
	}
}

func TestGeneratorQuotaDelays(t *testing.T) {
	tests := []struct {
		name    string
		message string
		calls   int
		wait    time.Duration
	}{
		{name: "long delay is not retried", message: "quota exhausted, retry after 60 seconds", calls: 1},
		{name: "short delay is honoured", message: "Please retry in 1.5s.", calls: 2, wait: 1500 * time.Millisecond},
		{name: "no hint uses backoff", message: "rate limited", calls: 2, wait: retryBaseDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delays := noSleep(t)

			chats := &fakeChats{}
			chats.push(nil, genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: tt.message})
			chats.push(textResponse(&genai.Part{Text: "ok"}), nil)

			_, _ = newTestGenerator(chats, 3).GenerateContent(context.Background(), "sys", "msg")
			if len(chats.created) != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, len(chats.created))
			}
			if tt.wait > 0 && (len(*delays) != 1 || (*delays)[0] != tt.wait) {
				t.Fatalf("expected a single %s wait, got %v", tt.wait, *delays)
			}
		})
	}
}

func TestGeneratorDoesNotRetryClientErrors(t *testing.T) {
	noSleep(t)

	chats := &fakeChats{}
	chats.push(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	if _, err := newTestGenerator(chats, 3).GenerateContent(context.Background(), "sys", "msg"); err == nil {
		t.Fatal("expected error")
	}
	if len(chats.created) != 1 {
		t.Fatalf("expected single call, got %d", len(chats.created))
	}
}

func TestGeneratorSkipsThoughtParts(t *testing.T) {
	chats := &fakeChats{}
	chats.push(textResponse(
		&genai.Part{Text: "thinking...", Thought: true},
		&genai.Part{Text: "answer"},
	), nil)

	out, err := newTestGenerator(chats, 1).GenerateContent(context.Background(), "", "msg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "answer" {
		t.Fatalf("unexpected output %q", out)
	}
	if chats.created[0].config.SystemInstruction != nil {
		t.Fatal("empty system prompt must not set an instruction")
	}
}

func TestGeneratorRejectsEmptyPrompt(t *testing.T) {
	if _, err := newTestGenerator(&fakeChats{}, 1).GenerateContent(context.Background(), "sys", "  "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
