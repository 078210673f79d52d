package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model"
	"github.com/nstogner/solemate/pkg/model/modeltest"
	"github.com/nstogner/solemate/pkg/store"
	"github.com/nstogner/solemate/pkg/store/memory"
	"github.com/nstogner/solemate/pkg/store/sqlite"
	"github.com/nstogner/solemate/pkg/support"
	"github.com/nstogner/solemate/pkg/tools"
)

const returnPolicy = "Items can be returned within 30 days of delivery unless sold as final sale."

type fakeOrders struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeOrders) GetOrder(ctx context.Context, id int) (*domain.Order, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if id != 45673 {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return &domain.Order{
		OrderID:         45673,
		ProductCategory: "Sneakers",
		ProductName:     "Trail Blazer",
		Size:            "10",
		Quantity:        1,
		Price:           decimal.RequireFromString("89.99"),
		OrderDate:       "2024-12-01",
		Status:          "Delivered",
		PaymentMethod:   "Credit Card",
		ShippingAddress: "12 Elm Street",
	}, nil
}

func (f *fakeOrders) SimilarProducts(ctx context.Context, id, limit int) ([]string, error) {
	return []string{"Street Glide"}, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePolicies struct{}

func (fakePolicies) Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error) {
	return []domain.PolicyMatch{{Policy: domain.Policy{Text: returnPolicy}, Score: 0.8}}, nil
}

type harness struct {
	c        *Controller
	provider *modeltest.Provider
	store    store.ThreadStore
	orders   *fakeOrders
}

func newHarness(t *testing.T, st store.ThreadStore, steps ...modeltest.Step) *harness {
	t.Helper()
	orders := &fakeOrders{}
	reg := tools.NewRegistry()
	if err := support.Register(reg, &support.Toolbox{Orders: orders, Policies: fakePolicies{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p := modeltest.New(steps...)
	c, err := New(Options{Provider: p, Registry: reg, Store: st, Model: "test-model"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{c: c, provider: p, store: st, orders: orders}
}

func lastMessage(req model.Request) domain.Message {
	return req.Messages[len(req.Messages)-1]
}

// echoToolResult replies with the content of the last tool result.
func echoToolResult(prefix string) modeltest.Step {
	return func(req model.Request) (domain.Message, error) {
		last := lastMessage(req)
		if last.Role != domain.RoleTool {
			return domain.Message{}, fmt.Errorf("last message role = %s, want tool", last.Role)
		}
		return domain.Message{Role: domain.RoleAssistant, Content: prefix + last.Content}, nil
	}
}

var (
	orderCall  = modeltest.Call{ID: "c1", Name: support.GetOrderDetails, Args: `{"order_id":45673}`}
	policyCall = modeltest.Call{ID: "c2", Name: support.GetRelevantPolicies, Args: `{"query_text":"return policy"}`}
	raCall     = modeltest.Call{ID: "ra1", Name: support.GenerateReturnAuth, Args: `{"order_id":45673}`}
)

// pauseOnReturn drives a thread into awaiting confirmation.
func pauseOnReturn(t *testing.T, h *harness, threadID string) {
	t.Helper()
	h.provider.Push(
		modeltest.Calls(orderCall, policyCall),
		modeltest.Calls(raCall),
	)
	reply, err := h.c.HandleMessage(context.Background(), threadID, "return my order 45673")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Kind != ReplyConfirmation || reply.State != domain.StateAwaitingConfirmation {
		t.Fatalf("reply = %+v, want confirmation", reply)
	}
}

func TestPolicyQuestion(t *testing.T) {
	h := newHarness(t, memory.New(),
		modeltest.Calls(modeltest.Call{ID: "c1", Name: support.GetRelevantPolicies, Args: `{"query_text":"what is your return policy?"}`}),
		echoToolResult("Our policy: "),
	)
	ctx := context.Background()

	reply, err := h.c.HandleMessage(ctx, "t1", "what is your return policy?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Kind != ReplyMessage || reply.State != domain.StateIdle {
		t.Fatalf("reply = %+v", reply)
	}
	if !strings.Contains(reply.Text, "30 days") {
		t.Errorf("Text = %q", reply.Text)
	}
	if len(reply.Invocations) != 1 || reply.Invocations[0].Status != domain.InvocationExecuted {
		t.Errorf("Invocations = %+v", reply.Invocations)
	}

	th, _ := h.store.Get(ctx, "t1")
	roles := []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleTool, domain.RoleAssistant}
	if len(th.Messages) != len(roles) {
		t.Fatalf("len(Messages) = %d, want %d", len(th.Messages), len(roles))
	}
	for i, r := range roles {
		if th.Messages[i].Role != r {
			t.Errorf("Messages[%d].Role = %s, want %s", i, th.Messages[i].Role, r)
		}
		if th.Messages[i].ID == "" {
			t.Errorf("Messages[%d] has no ID", i)
		}
	}
	if th.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool result linked to %q", th.Messages[2].ToolCallID)
	}

	req := h.provider.Requests()[0]
	if req.Model != "test-model" || req.Instructions != DefaultInstructions || len(req.Tools) != 5 {
		t.Errorf("request = model %q, %d tools", req.Model, len(req.Tools))
	}
}

func TestReturnConfirmedWithYes(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()
	pauseOnReturn(t, h, "t1")

	th, _ := h.store.Get(ctx, "t1")
	if th.Pending == nil || th.Pending.ID != "ra1" {
		t.Fatalf("Pending = %+v", th.Pending)
	}
	if len(th.Messages) != 5 {
		t.Fatalf("len(Messages) = %d, want 5", len(th.Messages))
	}

	want := support.ReturnAuthorization(45673)
	h.provider.Push(func(req model.Request) (domain.Message, error) {
		last := lastMessage(req)
		if last.ToolCallID != "ra1" || last.Content != want {
			return domain.Message{}, fmt.Errorf("unexpected last message %+v", last)
		}
		return domain.Message{Role: domain.RoleAssistant, Content: "Your return authorization number is " + last.Content + "."}, nil
	})

	reply, err := h.c.HandleMessage(ctx, "t1", "Yes")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Kind != ReplyMessage || reply.State != domain.StateIdle || !strings.Contains(reply.Text, want) {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.Invocations) != 1 || reply.Invocations[0].Status != domain.InvocationExecuted || reply.Invocations[0].Result != want {
		t.Errorf("Invocations = %+v", reply.Invocations)
	}

	th, _ = h.store.Get(ctx, "t1")
	if th.Pending != nil {
		t.Errorf("Pending = %+v, want nil", th.Pending)
	}
	if len(th.Messages) != 7 {
		t.Fatalf("len(Messages) = %d, want 7", len(th.Messages))
	}
	for _, m := range th.Messages {
		if m.Role == domain.RoleUser && m.Content == "Yes" {
			t.Error("confirmation answer was added to the history")
		}
	}
}

func TestReturnDenied(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()
	pauseOnReturn(t, h, "t1")

	reason := "no, I want to keep them"
	h.provider.Push(echoToolResult(""))

	reply, err := h.c.HandleMessage(ctx, "t1", reason)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	wantDenial := DenialContent(support.GenerateReturnAuth, reason)
	if reply.Text != wantDenial {
		t.Errorf("model saw %q, want %q", reply.Text, wantDenial)
	}
	if reply.State != domain.StateIdle {
		t.Errorf("State = %s", reply.State)
	}

	th, _ := h.store.Get(ctx, "t1")
	var results []domain.Message
	for _, m := range th.Messages {
		if m.ToolCallID == "ra1" {
			results = append(results, m)
		}
		if strings.Contains(m.Content, support.ReturnAuthorization(45673)) {
			t.Errorf("return authorization was generated: %q", m.Content)
		}
	}
	if len(results) != 1 || results[0].Content != wantDenial {
		t.Errorf("results for ra1 = %+v", results)
	}
}

func TestIsAffirmative(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"yes", true},
		{"YES", true},
		{"Yes.", true},
		{" yEs! go ahead", true},
		{"yes, please", true},
		{"yes,please", true},
		{"Yes!!", true},
		{"...yes", true},
		{"no", false},
		{"yesterday", false},
		{"y", false},
		{"", false},
		{"sure, yes", false},
	}
	for _, tt := range tests {
		if got := IsAffirmative(tt.in); got != tt.want {
			t.Errorf("IsAffirmative(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestYesInAnyCaseExecutesOnce(t *testing.T) {
	for _, answer := range []string{"yes", "YES", "Yes!"} {
		t.Run(answer, func(t *testing.T) {
			h := newHarness(t, memory.New())
			pauseOnReturn(t, h, "t1")
			h.provider.Push(modeltest.Reply("done"))

			reply, err := h.c.HandleMessage(context.Background(), "t1", answer)
			if err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
			var executed int
			for _, inv := range reply.Invocations {
				if inv.Call.ID == "ra1" && inv.Status == domain.InvocationExecuted {
					executed++
					if string(inv.Call.Arguments) != raCall.Args {
						t.Errorf("Arguments = %s, want captured %s", inv.Call.Arguments, raCall.Args)
					}
				}
			}
			if executed != 1 {
				t.Errorf("executed %d times, want 1", executed)
			}
		})
	}
}

func TestResume(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()

	if _, err := h.c.Resume(ctx, "t1", Decision{Approve: true}); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("Resume on idle thread err = %v, want ErrProtocol", err)
	}
	if infos, _ := h.store.List(ctx); len(infos) != 0 {
		t.Errorf("failed resume committed a thread: %+v", infos)
	}

	pauseOnReturn(t, h, "t1")
	h.provider.Push(echoToolResult(""))
	reply, err := h.c.Resume(ctx, "t1", Decision{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if reply.Text != DenialContent(support.GenerateReturnAuth, "no") {
		t.Errorf("Text = %q", reply.Text)
	}

	pauseOnReturn(t, h, "t2")
	h.provider.Push(echoToolResult(""))
	reply, err = h.c.Resume(ctx, "t2", Decision{Approve: true})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if reply.Text != support.ReturnAuthorization(45673) {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestResumeAfterReload(t *testing.T) {
	path := t.TempDir() + "/threads.db"
	st, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	h := newHarness(t, st)
	pauseOnReturn(t, h, "t1")
	st.Close()

	reopened, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	h2 := newHarness(t, reopened, echoToolResult(""))
	reloaded, err := h2.c.HandleMessage(context.Background(), "t1", "yes")
	if err != nil {
		t.Fatalf("HandleMessage after reload: %v", err)
	}

	mem := newHarness(t, memory.New())
	pauseOnReturn(t, mem, "t1")
	mem.provider.Push(echoToolResult(""))
	direct, err := mem.c.HandleMessage(context.Background(), "t1", "yes")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if reloaded.Text != direct.Text || reloaded.State != direct.State {
		t.Errorf("reloaded = %+v, direct = %+v", reloaded, direct)
	}
	a, _ := reopened.Get(context.Background(), "t1")
	b, _ := mem.store.Get(context.Background(), "t1")
	if len(a.Messages) != len(b.Messages) {
		t.Fatalf("len = %d vs %d", len(a.Messages), len(b.Messages))
	}
	for i := range a.Messages {
		if a.Messages[i].Role != b.Messages[i].Role || a.Messages[i].Content != b.Messages[i].Content || a.Messages[i].ToolCallID != b.Messages[i].ToolCallID {
			t.Errorf("Messages[%d] differ: %+v vs %+v", i, a.Messages[i], b.Messages[i])
		}
	}
}

func TestEmptyReplyIsRetried(t *testing.T) {
	h := newHarness(t, memory.New(),
		modeltest.Reply(""),
		modeltest.Reply("  \n"),
		modeltest.Reply("Hello! How can I help?"),
	)
	ctx := context.Background()

	reply, err := h.c.HandleMessage(ctx, "t1", "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != "Hello! How can I help?" {
		t.Errorf("Text = %q", reply.Text)
	}

	reqs := h.provider.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	if last := lastMessage(reqs[1]); last.Role != domain.RoleUser || last.Content != correctivePrompt {
		t.Errorf("retry request ends with %+v", last)
	}

	th, _ := h.store.Get(ctx, "t1")
	if len(th.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(th.Messages))
	}
	for _, m := range th.Messages {
		if m.Content == correctivePrompt {
			t.Error("corrective prompt was persisted")
		}
	}
}

func TestEmptyReplyRetriesAreCapped(t *testing.T) {
	h := newHarness(t, memory.New(),
		modeltest.Reply(""), modeltest.Reply(""), modeltest.Reply(""), modeltest.Reply(""),
		modeltest.Reply("never reached"),
	)
	ctx := context.Background()

	_, err := h.c.HandleMessage(ctx, "t1", "hi")
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if got := len(h.provider.Requests()); got != defaultMaxEmptyRetries+1 {
		t.Errorf("requests = %d, want %d", got, defaultMaxEmptyRetries+1)
	}
	if infos, _ := h.store.List(ctx); len(infos) != 0 {
		t.Errorf("failed turn was committed: %+v", infos)
	}
}

func TestFailedTurnKeepsLastCommit(t *testing.T) {
	h := newHarness(t, memory.New(),
		modeltest.Reply("Hi there."),
		modeltest.Calls(orderCall),
		modeltest.Fail(errors.New("rate limited")),
	)
	ctx := context.Background()

	if _, err := h.c.HandleMessage(ctx, "t1", "hi"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	reply := h.c.Respond(ctx, "t1", "where is order 45673?")
	if reply.Kind != ReplyError || !strings.HasPrefix(reply.Text, "⚠️ Error: ") || !strings.Contains(reply.Text, "rate limited") {
		t.Fatalf("reply = %+v", reply)
	}

	th, _ := h.store.Get(ctx, "t1")
	if th.Version != 1 || len(th.Messages) != 2 {
		t.Errorf("thread = version %d with %d messages, want 1 and 2", th.Version, len(th.Messages))
	}

	h.provider.Push(modeltest.Reply("Still here."))
	reply = h.c.Respond(ctx, "t1", "hello again")
	if reply.Kind != ReplyMessage || reply.Text != "Still here." {
		t.Errorf("thread not usable after failure: %+v", reply)
	}
}

func TestRespondRecoversPanic(t *testing.T) {
	h := newHarness(t, memory.New(), func(model.Request) (domain.Message, error) {
		panic("model adapter bug")
	})

	reply := h.c.Respond(context.Background(), "t1", "hi")
	if reply.Kind != ReplyError || !strings.Contains(reply.Text, "model adapter bug") {
		t.Fatalf("reply = %+v", reply)
	}
	if strings.Contains(reply.Text, "goroutine") {
		t.Errorf("stack trace leaked: %q", reply.Text)
	}

	// The lock must have been released.
	h.provider.Push(modeltest.Reply("ok"))
	if reply := h.c.Respond(context.Background(), "t1", "hi"); reply.Text != "ok" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestToolErrorsReachModel(t *testing.T) {
	h := newHarness(t, memory.New(),
		modeltest.Calls(
			modeltest.Call{ID: "c1", Name: support.GetOrderDetails, Args: `{"order_id":123}`},
			modeltest.Call{ID: "c2", Name: "Refund-Everything", Args: `{}`},
		),
		modeltest.Reply("Please check your order ID."),
	)

	if _, err := h.c.HandleMessage(context.Background(), "t1", "order 123"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if h.orders.count() != 0 {
		t.Errorf("order source queried %d times for an invalid id", h.orders.count())
	}

	req := h.provider.Requests()[1]
	n := len(req.Messages)
	bad, unknown := req.Messages[n-2], req.Messages[n-1]
	if !bad.IsError || !strings.HasPrefix(bad.Content, "Error: Order ID must be a five-digit number.") || !strings.HasSuffix(bad.Content, "please fix your mistakes.") {
		t.Errorf("validation result = %+v", bad)
	}
	if !unknown.IsError || unknown.ToolCallID != "c2" || !strings.Contains(unknown.Content, "Refund-Everything") {
		t.Errorf("unknown tool result = %+v", unknown)
	}
}

func TestBatchWithSeveralSensitiveCalls(t *testing.T) {
	h := newHarness(t, memory.New(),
		modeltest.Calls(
			orderCall,
			raCall,
			modeltest.Call{ID: "ra2", Name: support.GenerateReturnAuth, Args: `{"order_id":45673}`},
			policyCall,
		),
	)
	ctx := context.Background()

	reply, err := h.c.HandleMessage(ctx, "t1", "return 45673 twice")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Kind != ReplyConfirmation || reply.Pending == nil || reply.Pending.ID != "ra1" {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Text != "Should I generate the RA number for you? yes/no" {
		t.Errorf("prompt = %q", reply.Text)
	}

	th, _ := h.store.Get(ctx, "t1")
	answered := map[string]domain.Message{}
	for _, m := range th.Messages {
		if m.Role == domain.RoleTool {
			answered[m.ToolCallID] = m
		}
	}
	if len(answered) != 3 {
		t.Fatalf("answered = %v, want c1, ra2 and c2", answered)
	}
	if _, ok := answered["ra1"]; ok {
		t.Error("pending call was answered before confirmation")
	}
	if skip := answered["ra2"]; !skip.IsError || !strings.Contains(skip.Content, "not executed") {
		t.Errorf("second sensitive call result = %+v", skip)
	}

	h.provider.Push(modeltest.Reply("Done."))
	if _, err := h.c.HandleMessage(ctx, "t1", "yes"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	th, _ = h.store.Get(ctx, "t1")
	if err := th.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestStepLimit(t *testing.T) {
	orders := &fakeOrders{}
	reg := tools.NewRegistry()
	support.Register(reg, &support.Toolbox{Orders: orders, Policies: fakePolicies{}})
	p := modeltest.New(modeltest.Calls(orderCall), modeltest.Calls(modeltest.Call{ID: "c9", Name: support.GetOrderDetails, Args: `{"order_id":45673}`}))
	st := memory.New()
	c, _ := New(Options{Provider: p, Registry: reg, Store: st, MaxSteps: 2})

	if _, err := c.HandleMessage(context.Background(), "t1", "loop"); !errors.Is(err, domain.ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
}

func TestHandleMessageValidation(t *testing.T) {
	h := newHarness(t, memory.New())
	if _, err := h.c.HandleMessage(context.Background(), "t1", "   "); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty message err = %v", err)
	}
	if _, err := h.c.HandleMessage(context.Background(), "", "hi"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty thread err = %v", err)
	}
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for missing provider")
	}
}

func TestThreadsAreIndependent(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()
	pauseOnReturn(t, h, "paused")

	h.provider.Push(modeltest.Reply("Hello."))
	reply, err := h.c.HandleMessage(ctx, "other", "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.State != domain.StateIdle {
		t.Errorf("other thread State = %s", reply.State)
	}
	th, _ := h.store.Get(ctx, "paused")
	if th.State() != domain.StateAwaitingConfirmation {
		t.Errorf("paused thread State = %s", th.State())
	}
}

func TestConcurrentMessagesOnOneThread(t *testing.T) {
	const n = 8
	steps := make([]modeltest.Step, n)
	for i := range steps {
		steps[i] = modeltest.Reply("ok")
	}
	h := newHarness(t, memory.New(), steps...)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.c.HandleMessage(ctx, "t1", fmt.Sprintf("message %d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("HandleMessage: %v", err)
	}

	th, _ := h.store.Get(ctx, "t1")
	if th.Version != n || len(th.Messages) != 2*n {
		t.Errorf("thread = version %d with %d messages, want %d and %d", th.Version, len(th.Messages), n, 2*n)
	}
	if h.c.locks.len() != 0 {
		t.Errorf("locks left behind: %d", h.c.locks.len())
	}
}

func TestPromptMatchesConfirmationReply(t *testing.T) {
	h := newHarness(t, memory.New())
	h.provider.Push(modeltest.Calls(raCall))
	reply, err := h.c.HandleMessage(context.Background(), "t1", "return order 45673")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Pending == nil {
		t.Fatalf("reply = %+v, want pending call", reply)
	}
	if got := h.c.Prompt(*reply.Pending); got != reply.Text || got == "" {
		t.Errorf("Prompt = %q, reply text = %q", got, reply.Text)
	}
	if got := h.c.Prompt(domain.ToolCall{Name: "No-Such-Tool"}); got != "" {
		t.Errorf("Prompt for unknown tool = %q", got)
	}
}

func TestCallIDReusedAcrossTurns(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()
	reused := modeltest.Call{ID: "call_0", Name: support.GetRelevantPolicies, Args: `{"query_text":"return policy"}`}

	for i, text := range []string{"what is the return policy?", "and for final sale items?"} {
		h.provider.Push(modeltest.Calls(reused), echoToolResult("Policy: "))
		reply, err := h.c.HandleMessage(ctx, "t1", text)
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		if reply.Kind != ReplyMessage || !strings.Contains(reply.Text, returnPolicy) {
			t.Fatalf("turn %d: reply = %+v", i+1, reply)
		}
	}

	th, _ := h.store.Get(ctx, "t1")
	if len(th.Messages) != 8 {
		t.Errorf("len(Messages) = %d, want 8", len(th.Messages))
	}
}
