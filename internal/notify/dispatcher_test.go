package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"compliance/engine-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type sent struct {
	channel   string
	recipient string
	message   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, channel, recipient, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{channel, recipient, message})
	return r.err
}

func (r *recordingNotifier) snapshot() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type fakeAssigner struct {
	assignFn func(ctx context.Context, requestID, role string) error
}

func (f fakeAssigner) Assign(ctx context.Context, requestID, role string) error {
	return f.assignFn(ctx, requestID, role)
}

func TestRenderTemplate(t *testing.T) {
	task := Task{RequestID: "req-7", RuleName: "SLA watch", TierLevel: 2, Severity: models.SeverityHigh, ElapsedPercent: 90}
	got := renderTemplate(defaultTemplate(task), task)
	if got != "Escalation on request req-7: SLA watch tier 2 (high) at 90% elapsed." {
		t.Fatalf("unexpected template render: %s", got)
	}
}

func TestExecuteRunsEverySideEffect(t *testing.T) {
	notifier := &recordingNotifier{}
	var assigned string
	d := NewDispatcher(Config{}, notifier, fakeAssigner{assignFn: func(ctx context.Context, requestID, role string) error {
		assigned = requestID + ":" + role
		return nil
	}}, nil, zap.NewNop(), nil)

	task := Task{
		RequestID:    "req-1",
		EntityID:     "ent-1",
		RuleID:       "rule-1",
		TierLevel:    1,
		Severity:     models.SeverityCritical,
		NotifyRoles:  []string{"lead", "manager"},
		ReassignRole: "manager",
		NotifyClient: true,
		OpenIncident: true,
	}
	require.NoError(t, d.Execute(context.Background(), task))

	got := notifier.snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, "lead", got[0].recipient)
	assert.Equal(t, "manager", got[1].recipient)
	assert.Equal(t, "client", got[2].channel)
	assert.Equal(t, "incident", got[3].channel)
	assert.Equal(t, "req-1:manager", assigned)
}

func TestExecuteContinuesPastFailures(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("down")}
	assignCalled := false
	d := NewDispatcher(Config{}, notifier, fakeAssigner{assignFn: func(ctx context.Context, requestID, role string) error {
		assignCalled = true
		return nil
	}}, nil, zap.NewNop(), nil)

	err := d.Execute(context.Background(), Task{RequestID: "req-1", NotifyRoles: []string{"lead"}, ReassignRole: "lead"})
	require.Error(t, err)
	assert.True(t, assignCalled)
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(Config{Workers: 2, QueueSize: 8}, notifier, nil, nil, zap.NewNop(), nil)
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, d.Dispatch(Task{RequestID: "req", NotifyRoles: []string{"lead"}}))
	}
	d.Close()

	assert.Len(t, notifier.snapshot(), 5)
	assert.False(t, d.Dispatch(Task{RequestID: "late"}))
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, noopProvider{}, nil, nil, zap.NewNop(), nil)
	require.True(t, d.Dispatch(Task{RequestID: "a"}))
	assert.False(t, d.Dispatch(Task{RequestID: "b"}))
	d.Start(context.Background())
	d.Close()
}

func TestWebhookProviderPostsJSON(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()
	defer http.DefaultTransport.(*http.Transport).CloseIdleConnections()

	provider := NewNotifier(ProviderConfig{Kind: "webhook", WebhookURL: server.URL, WebhookToken: "secret"}, zap.NewNop())
	require.NoError(t, provider.Send(context.Background(), "role", "lead", "hello"))
	assert.Equal(t, "Bearer secret", gotAuth)

	failing := NewNotifier(ProviderConfig{Kind: "fail"}, zap.NewNop())
	assert.Error(t, failing.Send(context.Background(), "role", "lead", "hello"))
}
