package rulesvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"remindd/internal/delivery"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

type call struct {
	method string
	path   string
	body   []byte
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []call
	// status overrides per "METHOD path"; default 200
	status map[string]int
	// failCount makes the first N matching requests fail with the override
	failCount map[string]int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{status: map[string]int{}, failCount: map[string]int{}}
}

func (f *fakeScheduler) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path

		f.mu.Lock()
		f.calls = append(f.calls, call{method: r.Method, path: r.URL.Path, body: body})
		code := http.StatusOK
		if c, ok := f.failCount[key]; ok {
			// Bounded failures: fail while budget remains, then succeed.
			if c > 0 {
				f.failCount[key] = c - 1
				code = f.status[key]
			}
		} else if st, ok := f.status[key]; ok {
			code = st
		}
		f.mu.Unlock()

		w.WriteHeader(code)
	})
}

func (f *fakeScheduler) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func testBackend(t *testing.T, f *fakeScheduler, retryMax int) *Backend {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	b, err := New(
		Config{Endpoint: srv.URL, Token: "tok", Timeout: 2 * time.Second, RetryMax: retryMax},
		Target{URL: "https://hooks.example.com/remind", InvokerRole: "reminder-invoker"},
		logx.Nop(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func testDef() trigger.Def {
	return trigger.Def{
		Name:       "ev-1-OneWeek",
		Expression: "30 14 8 6 * 2030",
		At:         time.Date(2030, 6, 8, 14, 30, 0, 0, time.UTC),
		Enabled:    true,
		Payload: delivery.Payload{
			EventName:    "Board Meeting",
			ReminderType: "OneWeek",
			EventDate:    "2030-06-15",
			EventTime:    "14:30",
		},
	}
}

func TestRegisterCreatesRuleThenTarget(t *testing.T) {
	t.Parallel()

	f := newFakeScheduler()
	b := testBackend(t, f, 0)

	if err := b.Register(context.Background(), testDef()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	calls := f.recorded()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2: %+v", len(calls), calls)
	}
	if calls[0].method != http.MethodPut || calls[0].path != "/rules/ev-1-OneWeek" {
		t.Fatalf("first call = %s %s", calls[0].method, calls[0].path)
	}
	if calls[1].method != http.MethodPut || calls[1].path != "/rules/ev-1-OneWeek/targets" {
		t.Fatalf("second call = %s %s", calls[1].method, calls[1].path)
	}

	var rule ruleBody
	if err := json.Unmarshal(calls[0].body, &rule); err != nil {
		t.Fatalf("rule body: %v", err)
	}
	if rule.Expression != "30 14 8 6 * 2030" || !rule.Enabled || rule.Timezone != "UTC" {
		t.Fatalf("rule = %+v", rule)
	}

	var tgt targetBody
	if err := json.Unmarshal(calls[1].body, &tgt); err != nil {
		t.Fatalf("target body: %v", err)
	}
	if tgt.URL != "https://hooks.example.com/remind" || tgt.InvokerRole != "reminder-invoker" {
		t.Fatalf("target = %+v", tgt)
	}
	if tgt.Payload.EventName != "Board Meeting" || tgt.Payload.ReminderType != "OneWeek" {
		t.Fatalf("payload = %+v", tgt.Payload)
	}
}

func TestRegisterRollsBackOnAttachFailure(t *testing.T) {
	t.Parallel()

	f := newFakeScheduler()
	f.status["PUT /rules/ev-1-OneWeek/targets"] = http.StatusConflict
	b := testBackend(t, f, 0)

	if err := b.Register(context.Background(), testDef()); err == nil {
		t.Fatal("want error when target attach fails")
	}

	calls := f.recorded()
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3 (rule, target, rollback): %+v", len(calls), calls)
	}
	last := calls[2]
	if last.method != http.MethodDelete || last.path != "/rules/ev-1-OneWeek" {
		t.Fatalf("rollback call = %s %s", last.method, last.path)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFakeScheduler()
	b := testBackend(t, f, 0)

	def := testDef()
	for i := 0; i < 2; i++ {
		if err := b.Register(context.Background(), def); err != nil {
			t.Fatalf("Register #%d: %v", i+1, err)
		}
	}
	for _, c := range f.recorded() {
		if c.method != http.MethodPut {
			t.Fatalf("unexpected %s call on re-register", c.method)
		}
	}
}

func TestRegisterRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	f := newFakeScheduler()
	f.status["PUT /rules/ev-1-OneWeek"] = http.StatusBadGateway
	f.failCount["PUT /rules/ev-1-OneWeek"] = 1
	b := testBackend(t, f, 2)

	if err := b.Register(context.Background(), testDef()); err != nil {
		t.Fatalf("Register should recover from one 502: %v", err)
	}
}

func TestRegisterDoesNotRetryClientError(t *testing.T) {
	t.Parallel()

	f := newFakeScheduler()
	f.status["PUT /rules/ev-1-OneWeek"] = http.StatusUnprocessableEntity
	b := testBackend(t, f, 3)

	if err := b.Register(context.Background(), testDef()); err == nil {
		t.Fatal("want error")
	}
	puts := 0
	for _, c := range f.recorded() {
		if c.method == http.MethodPut {
			puts++
		}
	}
	if puts != 1 {
		t.Fatalf("made %d PUT attempts, want 1 (4xx must not retry)", puts)
	}
}

func TestRemoveUnknownRuleIsNotError(t *testing.T) {
	t.Parallel()

	f := newFakeScheduler()
	f.status["DELETE /rules/gone"] = http.StatusNotFound
	b := testBackend(t, f, 0)

	if err := b.Remove(context.Background(), "gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, Target{URL: "https://x"}, logx.Nop()); err == nil {
		t.Fatal("want error for missing endpoint")
	}
	if _, err := New(Config{Endpoint: "not-a-url"}, Target{URL: "https://x"}, logx.Nop()); err == nil {
		t.Fatal("want error for relative endpoint")
	}
	if _, err := New(Config{Endpoint: "https://sched"}, Target{}, logx.Nop()); err == nil {
		t.Fatal("want error for missing target URL")
	}
}
