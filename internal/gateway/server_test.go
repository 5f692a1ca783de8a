package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberlab/hearth/internal/agent"
	"github.com/emberlab/hearth/internal/background"
	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/compactor"
	"github.com/emberlab/hearth/internal/config"
	"github.com/emberlab/hearth/internal/orchestrator"
	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/sessions"
	"github.com/emberlab/hearth/internal/store/sqlite"
	"github.com/emberlab/hearth/internal/subagents"
	"github.com/emberlab/hearth/internal/templates"
	"github.com/emberlab/hearth/internal/tools"
)

type cannedProvider struct {
	reply string
}

func (p *cannedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.reply, FinishReason: "stop"}, nil
}

func (p *cannedProvider) ID() string      { return "canned" }
func (p *cannedProvider) Name() string    { return "Canned" }
func (p *cannedProvider) Available() bool { return true }

func newTestServer(t *testing.T, cfg config.GatewayConfig, reply string) (*Server, *bus.Bus) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := bus.New(10)
	queue := sessions.NewQueue()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		queue.Shutdown(ctx)
	})

	provider := &cannedProvider{reply: reply}
	lifecycle := subagents.NewManager(subagents.Config{Agents: db, Messages: db, Bus: b})
	tpls := templates.NewManager(templates.Config{Templates: db})
	loop := agent.NewLoop(agent.LoopConfig{Provider: provider, Tools: tools.NewRegistry()})
	runner := background.NewRunner(background.Config{
		Tasks: db, Metrics: db, Queue: queue,
		Lifecycle: lifecycle, Templates: tpls, Loop: loop, Bus: b,
	})
	comp := compactor.New(compactor.Config{Messages: db, Compactions: db, Provider: provider, Bus: b})
	orch := orchestrator.New(orchestrator.Config{
		Messages: db, Memories: db, Provider: provider,
		Runner: runner, Compactor: comp, Queue: queue, Tools: tools.NewRegistry(),
	})

	return NewServer(cfg, orch, runner, b, queue), b
}

func postChat(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url+"/api/chat", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	return resp
}

func TestChatEndpoint(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{}, "hello from hearth")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postChat(t, ts.URL, map[string]interface{}{"userId": "u1", "message": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Response != "hello from hearth" {
		t.Errorf("response = %q", out.Response)
	}
}

func TestChatValidation(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{MaxMessageChars: 10}, "ok")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"missing user", map[string]interface{}{"message": "hi"}, http.StatusBadRequest},
		{"snake_case user key not accepted", map[string]interface{}{"user_id": "u1", "message": "hi"}, http.StatusBadRequest},
		{"missing message", map[string]interface{}{"userId": "u1"}, http.StatusBadRequest},
		{"oversize message", map[string]interface{}{"userId": "u1", "message": strings.Repeat("x", 11)}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postChat(t, ts.URL, tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestChatRateLimit(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{RateLimitRPM: 1}, "ok")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	var limited bool
	for i := 0; i < limiterBurst+1; i++ {
		resp := postChat(t, ts.URL, map[string]interface{}{"userId": "u1", "message": "hi"})
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("burst never hit the limiter")
	}

	// A different user has their own bucket.
	resp := postChat(t, ts.URL, map[string]interface{}{"userId": "u2", "message": "hi"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("fresh user status = %d", resp.StatusCode)
	}
}

func TestChatStreaming(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{}, "streamed reply")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp := postChat(t, ts.URL, map[string]interface{}{"userId": "u1", "message": "hi", "stream": true})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, "event: text") || !strings.Contains(body, "streamed reply") {
		t.Errorf("missing text frame:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("missing done frame:\n%s", body)
	}
}

func TestInboxEndpoint(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{}, "ok")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tasks/inbox?userId=u1")
	if err != nil {
		t.Fatalf("GET inbox: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/api/tasks/inbox")
	if err != nil {
		t.Fatalf("GET inbox: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user status = %d", missing.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{}, "ok")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEventsWebSocket(t *testing.T) {
	s, b := newTestServer(t, config.GatewayConfig{}, "ok")
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription races the dial; retry until the event lands.
	deadline := time.Now().Add(3 * time.Second)
	var got bus.Event
	for {
		b.Emit(bus.TopicAgentCreated, "u1", map[string]string{"role": "researcher"})
		conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		if err := conn.ReadJSON(&got); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no event received")
		}
	}
	if got.Topic != bus.TopicAgentCreated || got.UserID != "u1" {
		t.Errorf("event = %+v", got)
	}
}

func TestStartTestServerServesChat(t *testing.T) {
	s, _ := newTestServer(t, config.GatewayConfig{}, "via listener")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, start := StartTestServer(s, ctx)
	go start()

	url := fmt.Sprintf("http://%s", addr)
	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(url + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()

	chat := postChat(t, url, map[string]interface{}{"userId": "u1", "message": "hi"})
	defer chat.Body.Close()
	if chat.StatusCode != http.StatusOK {
		t.Errorf("chat status = %d", chat.StatusCode)
	}
}
