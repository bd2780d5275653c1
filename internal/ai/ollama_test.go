package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const setupapiExcerpt = `>>>  [Device Install (Hardware initiated) - USB\VID_05E0&PID_1200]
!!!  dvi: Device not started: Device has problem: 0x0a (CM_PROB_FAILED_START), problem status: 0xc0000001.
<<<  [Exit status: FAILURE(0xe0000219)]`

// fakeOllama serves /api/tags and /api/chat. Chat replies are taken from
// replies in order; the last one repeats.
type fakeOllama struct {
	t      *testing.T
	models []string

	mu      sync.Mutex
	replies []ollamaReply
	chats   []*ollamaChatRequest
}

type ollamaReply struct {
	status int
	body   string
}

func (f *fakeOllama) start() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var tags ollamaTagsResponse
			for _, name := range f.models {
				tags.Models = append(tags.Models, struct {
					Name string `json:"name"`
				}{name})
			}
			_ = json.NewEncoder(w).Encode(tags)

		case "/api/chat":
			req := verifyOllamaChatRequest(f.t, r, w)
			if req == nil {
				return
			}
			f.mu.Lock()
			f.chats = append(f.chats, req)
			reply := f.replies[0]
			if len(f.replies) > 1 {
				f.replies = f.replies[1:]
			}
			f.mu.Unlock()

			w.WriteHeader(reply.status)
			_, _ = w.Write([]byte(reply.body))

		default:
			f.t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	f.t.Cleanup(srv.Close)
	return srv
}

func TestNewOllamaClient(t *testing.T) {
	tests := []struct {
		name        string
		cfg         OllamaConfig
		wantErr     bool
		wantBaseURL string
		wantTokens  int
	}{
		{
			name:        "defaults",
			cfg:         OllamaConfig{Model: "llama3.3:latest"},
			wantBaseURL: "http://localhost:11434",
			wantTokens:  8000,
		},
		{
			name:        "remote host with trailing slash",
			cfg:         OllamaConfig{BaseURL: "http://gpu-box.lab:11434/", Model: "qwen2.5:14b", MaxTokens: 4000},
			wantBaseURL: "http://gpu-box.lab:11434",
			wantTokens:  4000,
		},
		{
			name:    "model required",
			cfg:     OllamaConfig{BaseURL: "http://localhost:11434"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOllamaClient(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewOllamaClient() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOllamaClient() error = %v", err)
			}

			info := client.GetModelInfo()
			if info["base_url"] != tt.wantBaseURL || info["max_tokens"] != tt.wantTokens {
				t.Errorf("GetModelInfo() = %v", info)
			}
			if info["model"] != tt.cfg.Model || info["provider"] != "Ollama" || client.GetProviderName() != "Ollama" {
				t.Errorf("GetModelInfo() = %v", info)
			}
		})
	}
}

func TestOllamaClient_CheckConnection(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		installed []string
		wantErr   string
	}{
		{"exact tag", "llama3.3:latest", []string{"mistral:latest", "llama3.3:latest"}, ""},
		{"other tag of the same model", "llama3.3", []string{"llama3.3:70b"}, ""},
		{"not pulled", "qwen2.5:14b", []string{"llama3.3:latest"}, "ollama pull qwen2.5:14b"},
		{"nothing pulled", "llama3.3:latest", nil, "not found in Ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := (&fakeOllama{t: t, models: tt.installed}).start()
			client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: tt.model})
			if err != nil {
				t.Fatalf("NewOllamaClient() error = %v", err)
			}

			err = client.CheckConnection(context.Background())
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("CheckConnection() error = %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("CheckConnection() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestOllamaClient_CheckConnection_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: url, Model: "llama3.3:latest"})
	if err != nil {
		t.Fatalf("NewOllamaClient() error = %v", err)
	}
	if err := client.CheckConnection(context.Background()); err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("CheckConnection() error = %v", err)
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	sleeps := noSleep(t)

	fake := &fakeOllama{t: t, replies: []ollamaReply{
		{http.StatusServiceUnavailable, `{"error":"server busy, please try again.  maximum pending requests exceeded"}`},
		{http.StatusOK, `{"model":"llama3.3:latest","message":{"role":"assistant","content":"USB\\VID_05E0&PID_1200 failed to start (CM_PROB_FAILED_START)."},"done":true,"done_reason":"stop","prompt_eval_count":1500,"eval_count":250}`},
	}}
	srv := fake.start()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "llama3.3:latest", MaxTokens: 4000})
	if err != nil {
		t.Fatalf("NewOllamaClient() error = %v", err)
	}

	completion, stats, err := client.Complete(context.Background(), "You analyze Windows setupapi logs.", setupapiExcerpt)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Text != `USB\VID_05E0&PID_1200 failed to start (CM_PROB_FAILED_START).` || completion.StopReason != "stop" {
		t.Errorf("completion = %+v", completion)
	}
	verifyLocalProviderStats(t, stats, "Ollama")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.chats) != 2 || *sleeps != 1 {
		t.Fatalf("chats = %d, sleeps = %d; want one retry after the busy reply", len(fake.chats), *sleeps)
	}
	req := fake.chats[1]
	if req.Stream || req.Options.NumPredict != 4000 || req.Options.Temperature != 0.1 {
		t.Errorf("request options = %+v, stream = %v", req.Options, req.Stream)
	}
	if req.Messages[0].Content != "You analyze Windows setupapi logs." || req.Messages[1].Content != setupapiExcerpt {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestOllamaClient_Complete_Error(t *testing.T) {
	tests := []struct {
		name      string
		reply     ollamaReply
		wantCalls int
	}{
		{"model crashed", ollamaReply{http.StatusInternalServerError, `{"error":"llama runner process has terminated: signal: killed"}`}, defaultMaxRetries},
		{"generation cut off", ollamaReply{http.StatusOK, `{"done":false,"message":{"role":"assistant","content":"FATAL EXCEPTION in"}}`}, defaultMaxRetries},
		{"malformed JSON", ollamaReply{http.StatusOK, `{"done": tru`}, defaultMaxRetries},
		{"blank answer", ollamaReply{http.StatusOK, `{"done":true,"message":{"role":"assistant","content":"  \n"}}`}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noSleep(t)

			fake := &fakeOllama{t: t, replies: []ollamaReply{tt.reply}}
			srv := fake.start()

			client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "llama3.3:latest"})
			if err != nil {
				t.Fatalf("NewOllamaClient() error = %v", err)
			}

			if _, _, err := client.Complete(context.Background(), "s", "10-18 09:12:01.456 E AndroidRuntime: FATAL EXCEPTION: main"); err == nil {
				t.Error("Complete() expected error")
			}

			fake.mu.Lock()
			defer fake.mu.Unlock()
			if len(fake.chats) != tt.wantCalls {
				t.Errorf("chat calls = %d, want %d", len(fake.chats), tt.wantCalls)
			}
		})
	}
}
