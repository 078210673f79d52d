package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/solemate/pkg/controller"
	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model/modeltest"
	"github.com/nstogner/solemate/pkg/store/memory"
	"github.com/nstogner/solemate/pkg/support"
	"github.com/nstogner/solemate/pkg/tools"
)

type stubOrders struct{}

func (stubOrders) GetOrder(ctx context.Context, id int) (*domain.Order, error) {
	if id != 45673 {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return &domain.Order{OrderID: id, ProductName: "Trail Blazer", OrderDate: "2024-12-01", Status: "Delivered"}, nil
}

func (stubOrders) SimilarProducts(ctx context.Context, id, limit int) ([]string, error) {
	return nil, nil
}

type stubPolicies struct{}

func (stubPolicies) Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error) {
	return []domain.PolicyMatch{{Policy: domain.Policy{Text: "Returns are accepted within 30 days."}, Score: 1}}, nil
}

func newTestServer(t *testing.T, steps ...modeltest.Step) (*httptest.Server, *modeltest.Provider) {
	t.Helper()
	reg := tools.NewRegistry()
	if err := support.Register(reg, &support.Toolbox{Orders: stubOrders{}, Policies: stubPolicies{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p := modeltest.New(steps...)
	st := memory.New()
	c, err := controller.New(controller.Options{Provider: p, Registry: reg, Store: st})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	srv := httptest.NewServer(New(c, st).Handler())
	t.Cleanup(srv.Close)
	return srv, p
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

var raCall = modeltest.Call{ID: "ra1", Name: support.GenerateReturnAuth, Args: `{"order_id":45673}`}

func TestMessageThenConfirmation(t *testing.T) {
	srv, _ := newTestServer(t,
		modeltest.Calls(modeltest.Call{ID: "c1", Name: support.GetOrderDetails, Args: `{"order_id":45673}`}),
		modeltest.Calls(raCall),
		modeltest.Reply("Your RA number is "+support.ReturnAuthorization(45673)+"."),
	)

	resp, body := post(t, srv.URL+"/api/threads/t1/messages", `{"content":"return my order 45673"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var reply controller.Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if reply.Kind != controller.ReplyConfirmation || reply.State != domain.StateAwaitingConfirmation {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Pending == nil || reply.Pending.ID != "ra1" {
		t.Errorf("Pending = %+v", reply.Pending)
	}

	resp, body = post(t, srv.URL+"/api/threads/t1/confirmation", `{"approve":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	reply = controller.Reply{}
	json.Unmarshal(body, &reply)
	if reply.State != domain.StateIdle || !strings.Contains(reply.Text, support.ReturnAuthorization(45673)) {
		t.Errorf("reply = %+v", reply)
	}
}

func TestConfirmationWithoutPending(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := post(t, srv.URL+"/api/threads/t1/confirmation", `{"approve":true}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", resp.StatusCode, body)
	}
	var e map[string]string
	json.Unmarshal(body, &e)
	if !strings.HasPrefix(e["error"], "⚠️ Error: ") {
		t.Errorf("error = %q", e["error"])
	}
}

func TestPostMessageErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp, _ := post(t, srv.URL+"/api/threads/t1/messages", `{"content":`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
	if resp, _ := post(t, srv.URL+"/api/threads/t1/messages", `{"content":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content status = %d", resp.StatusCode)
	}
	// The scripted model has nothing left to say.
	if resp, _ := post(t, srv.URL+"/api/threads/t1/messages", `{"content":"hi"}`); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("model failure status = %d", resp.StatusCode)
	}
}

func TestThreads(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.Reply("Hello."))

	resp, body := post(t, srv.URL+"/api/threads", ``)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created map[string]string
	json.Unmarshal(body, &created)
	id := created["id"]
	if id == "" {
		t.Fatalf("no id in %s", body)
	}

	post(t, srv.URL+"/api/threads/"+id+"/messages", `{"content":"hi"}`)

	_, body = get(t, srv.URL+"/api/threads")
	var infos []domain.ThreadInfo
	json.Unmarshal(body, &infos)
	if len(infos) != 1 || infos[0].ID != id || infos[0].MessageCount != 2 || infos[0].State != domain.StateIdle {
		t.Errorf("infos = %+v", infos)
	}

	_, body = get(t, srv.URL+"/api/threads/"+id)
	var th struct {
		ID       string           `json:"id"`
		State    domain.State     `json:"state"`
		Messages []domain.Message `json:"messages"`
	}
	json.Unmarshal(body, &th)
	if th.ID != id || th.State != domain.StateIdle || len(th.Messages) != 2 || th.Messages[1].Content != "Hello." {
		t.Errorf("thread = %s", body)
	}
}

func TestListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := get(t, srv.URL+"/api/tools")
	var decls []struct {
		Name           string `json:"name"`
		Classification string `json:"classification"`
	}
	if err := json.Unmarshal(body, &decls); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decls) != 5 {
		t.Fatalf("len = %d, want 5", len(decls))
	}
	for _, d := range decls {
		want := "safe"
		if d.Name == support.GenerateReturnAuth {
			want = "sensitive"
		}
		if d.Classification != want {
			t.Errorf("%s classification = %s, want %s", d.Name, d.Classification, want)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.Reply("Hello."))
	post(t, srv.URL+"/api/threads/t1/messages", `{"content":"hi"}`)

	if resp, _ := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "solemate_agent_turns_total") {
		t.Errorf("metrics status = %d, missing turn counter", resp.StatusCode)
	}
}

func TestChatWebSocket(t *testing.T) {
	srv, _ := newTestServer(t,
		modeltest.Calls(raCall),
		modeltest.Reply("Okay, I will not generate it."),
	)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/threads/t1/chat"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Frame
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if first.Type != "thread" || first.Thread == nil || first.Thread.State != domain.StateIdle {
		t.Fatalf("initial frame = %+v", first)
	}

	readReply := func() *controller.Reply {
		t.Helper()
		for i := 0; i < 5; i++ {
			var f Frame
			if err := ws.ReadJSON(&f); err != nil {
				t.Fatalf("ReadJSON: %v", err)
			}
			if f.Type == "reply" {
				return f.Reply
			}
		}
		t.Fatal("no reply frame")
		return nil
	}

	ws.WriteJSON(messageRequest{Content: "generate an RA for 45673"})
	if r := readReply(); r.Kind != controller.ReplyConfirmation || r.Text != "Should I generate the RA number for you? yes/no" {
		t.Fatalf("reply = %+v", r)
	}

	ws.WriteJSON(messageRequest{Content: "no thanks"})
	if r := readReply(); r.Kind != controller.ReplyMessage || r.State != domain.StateIdle {
		t.Fatalf("reply = %+v", r)
	}

	// Failures come back as error replies and keep the connection open.
	ws.WriteJSON(messageRequest{Content: "hello?"})
	if r := readReply(); r.Kind != controller.ReplyError || !strings.HasPrefix(r.Text, "⚠️ Error: ") {
		t.Fatalf("reply = %+v", r)
	}
}

// countingStore tracks open subscriptions of the wrapped store.
type countingStore struct {
	*memory.Store
	open atomic.Int32
}

func (c *countingStore) Subscribe() (<-chan string, func()) {
	ch, unsubscribe := c.Store.Subscribe()
	c.open.Add(1)
	var done atomic.Bool
	return ch, func() {
		if done.CompareAndSwap(false, true) {
			c.open.Add(-1)
		}
		unsubscribe()
	}
}

func TestChatWebSocketReleasesSubscription(t *testing.T) {
	reg := tools.NewRegistry()
	if err := support.Register(reg, &support.Toolbox{Orders: stubOrders{}, Policies: stubPolicies{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	st := &countingStore{Store: memory.New()}
	c, err := controller.New(controller.Options{Provider: modeltest.New(), Registry: reg, Store: st})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	srv := httptest.NewServer(New(c, st).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/threads/t1/chat"
	for i := 0; i < 3; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}

	deadline := time.Now().Add(5 * time.Second)
	for st.open.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("open subscriptions = %d after all connections closed", st.open.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
