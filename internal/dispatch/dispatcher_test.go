package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/bus"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/metrics"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/security"
)

const testChannel = "test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	powerErr  error
	procs     []domain.ProcessInfo
	windows   []domain.WindowInfo
	shot      *domain.Screenshot
	shotErr   error
	panicKill bool
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SystemInfo(context.Context) map[string]string {
	p.record("system_info")
	return map[string]string{"Host": "box", "OS": "linux"}
}

func (p *fakeProvider) ListProcesses(_ context.Context, limit int) ([]domain.ProcessInfo, error) {
	p.record(fmt.Sprintf("list_processes:%d", limit))
	return p.procs, nil
}

func (p *fakeProvider) KillProcess(_ context.Context, pid int) (string, error) {
	p.record(fmt.Sprintf("kill_process:%d", pid))
	if p.panicKill {
		panic("boom")
	}
	return fmt.Sprintf("Process %d terminated", pid), nil
}

func (p *fakeProvider) ListWindows(context.Context) ([]domain.WindowInfo, error) {
	p.record("list_windows")
	return p.windows, nil
}

func (p *fakeProvider) ActivateWindow(_ context.Context, handle string) (string, error) {
	p.record("activate_window:" + handle)
	return "Window activated", nil
}

func (p *fakeProvider) SetPowerState(_ context.Context, state domain.PowerState) (string, error) {
	p.record("set_power_state:" + string(state))
	if p.powerErr != nil {
		return "", p.powerErr
	}
	return string(state) + " command issued", nil
}

func (p *fakeProvider) SetVolume(_ context.Context, op domain.VolumeOp) (string, error) {
	p.record("set_volume:" + op.String())
	return "Volume: " + op.String(), nil
}

func (p *fakeProvider) CaptureScreenshot(_ context.Context, scope domain.ScreenshotScope, target string) (*domain.Screenshot, error) {
	p.record("capture_screenshot:" + string(scope) + ":" + target)
	return p.shot, p.shotErr
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) LogAudit(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *memAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type outbox struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
	got  chan struct{}
}

func (o *outbox) add(m domain.OutboundMessage) {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
	select {
	case o.got <- struct{}{}:
	default:
	}
}

func (o *outbox) All() []domain.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OutboundMessage(nil), o.msgs...)
}

func (o *outbox) Last(t *testing.T) domain.Response {
	t.Helper()
	msgs := o.All()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.NotNil(t, last.Response)
	return *last.Response
}

type harness struct {
	d        *Dispatcher
	provider *fakeProvider
	audit    *memAudit
	out      *outbox
	metrics  *metrics.Collector
	bus      *bus.InMemoryBus
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{
		provider: &fakeProvider{},
		audit:    &memAudit{},
		out:      &outbox{got: make(chan struct{}, 16)},
		metrics:  metrics.New(prometheus.NewRegistry()),
		bus:      bus.New(16, logger),
	}
	h.bus.OnOutbound(testChannel, h.out.add)

	cfg := Config{
		Provider: h.provider,
		Auth:     security.NewGuard(logger),
		Bus:      h.bus,
		Audit:    h.audit,
		Metrics:  h.metrics,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.d = New(cfg)
	return h
}

func (h *harness) action(caller domain.CallerID, code string) {
	h.d.Handle(context.Background(), domain.NewActionIntent(testChannel, "chat", caller, "7", code))
}

func (h *harness) text(caller domain.CallerID, kind domain.IntentKind, text string) {
	h.d.Handle(context.Background(), domain.NewTextIntent(testChannel, "chat", caller, kind, text))
}

var criticalCodes = []struct {
	code  string
	state domain.PowerState
}{
	{"power_shutdown", domain.PowerShutdown},
	{"power_restart", domain.PowerRestart},
	{"power_sleep", domain.PowerSleep},
	{"power_hibernate", domain.PowerHibernate},
	{"screen_lock", domain.PowerLock},
}

func TestCriticalConfirmInvokesOnce(t *testing.T) {
	for _, tc := range criticalCodes {
		t.Run(tc.code, func(t *testing.T) {
			h := newHarness(t, nil)

			h.action("c", tc.code)
			assert.Equal(t, State{Pending: tc.code}, h.d.State("c"))
			assert.Empty(t, h.provider.Calls(), "requesting a critical action must not run it")

			prompt := h.out.Last(t)
			desc, _ := domain.CriticalDescription(tc.code)
			assert.Contains(t, prompt.Text, desc)
			assert.Equal(t, []string{domain.ConfirmCode(tc.code), domain.CodeCancel}, prompt.Menu.Codes())

			h.action("c", domain.ConfirmCode(tc.code))
			assert.Equal(t, []string{"set_power_state:" + string(tc.state)}, h.provider.Calls())
			assert.True(t, h.d.State("c").Idle())

			h.action("c", domain.ConfirmCode(tc.code))
			assert.Len(t, h.provider.Calls(), 1, "a second confirm must not run the action again")
			assert.Equal(t, TextNothingPending, h.out.Last(t).Text)
		})
	}
}

func TestCriticalCancelInvokesNothing(t *testing.T) {
	for _, tc := range criticalCodes {
		t.Run(tc.code, func(t *testing.T) {
			h := newHarness(t, nil)

			h.action("c", tc.code)
			h.action("c", domain.CodeCancel)

			assert.Empty(t, h.provider.Calls())
			assert.True(t, h.d.State("c").Idle())
			assert.Equal(t, TextCancelled, h.out.Last(t).Text)
		})
	}
}

func TestLastCriticalRequestWins(t *testing.T) {
	h := newHarness(t, nil)

	h.action("c", "power_shutdown")
	h.action("c", "power_sleep")
	assert.Equal(t, State{Pending: "power_sleep"}, h.d.State("c"))
	assert.Equal(t, 1, h.d.store.Len())

	h.action("c", domain.ConfirmCode("power_sleep"))
	assert.Equal(t, []string{"set_power_state:sleep"}, h.provider.Calls())
	assert.True(t, h.d.State("c").Idle())
}

func TestStaleConfirmButtonRunsNothing(t *testing.T) {
	h := newHarness(t, nil)

	h.action("c", "power_shutdown")
	h.action("c", "power_sleep")
	h.action("c", domain.ConfirmCode("power_shutdown"))

	assert.Empty(t, h.provider.Calls())
	assert.Equal(t, TextSuperseded, h.out.Last(t).Text)
	assert.True(t, h.d.State("c").Idle())
	assert.Contains(t, h.audit.Actions(), domain.AuditSuperseded)
}

func TestDirectActionsNeverPend(t *testing.T) {
	h := newHarness(t, nil)

	h.action("c", "sound_mute")
	h.action("c", "sound_mute")
	h.action("c", "sound_50")
	h.action("c", "kill_process_42")
	h.action("c", "activate_window_0x1f")

	assert.Equal(t, []string{
		"set_volume:mute",
		"set_volume:mute",
		"set_volume:50%",
		"kill_process:42",
		"activate_window:0x1f",
	}, h.provider.Calls())
	assert.True(t, h.d.State("c").Idle())
	assert.Equal(t, 0, h.d.store.Len())
	assert.Equal(t, "🪟 Window activated", h.out.Last(t).Text)
}

func TestConfirmOrCancelWithoutPending(t *testing.T) {
	h := newHarness(t, nil)

	h.action("c", domain.ConfirmCode("power_restart"))
	first := h.out.Last(t)
	h.action("c", domain.CodeCancel)
	second := h.out.Last(t)

	assert.Equal(t, TextNothingPending, first.Text)
	assert.Equal(t, TextNothingPending, second.Text)
	assert.Empty(t, h.provider.Calls())
	assert.True(t, h.d.State("c").Idle())
}

func TestUnauthorizedNeverReachesProvider(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Auth = security.NewGuard(testLogger(), "1001")
	})

	for _, code := range []string{
		"power_shutdown", domain.ConfirmCode("power_shutdown"), domain.CodeCancel,
		"sound_mute", "kill_process_1", domain.CodeProcessList, domain.CodeScreenFull,
		domain.CodeSystemInfo, "bogus",
	} {
		h.action("intruder", code)
		assert.Equal(t, TextDenied, h.out.Last(t).Text, code)
	}
	h.text("intruder", domain.IntentCommand, "start")
	h.text("intruder", domain.IntentMenuSelect, LabelSystemInfo)

	assert.Empty(t, h.provider.Calls())
	assert.True(t, h.d.State("intruder").Idle())
	assert.Equal(t, float64(11), testutil.ToFloat64(h.metrics.Denied))

	h.action("1001", "sound_unmute")
	assert.Equal(t, []string{"set_volume:unmute"}, h.provider.Calls())
}

func TestProcessListing(t *testing.T) {
	h := newHarness(t, nil)
	for i := 1; i <= 20; i++ {
		h.provider.procs = append(h.provider.procs, domain.ProcessInfo{
			PID:  100 + i,
			Name: fmt.Sprintf("proc%d", i),
			CPU:  float64(i),
			Mem:  1,
		})
	}

	h.action("c", domain.CodeProcessList)
	resp := h.out.Last(t)

	assert.Equal(t, 15, strings.Count(resp.Text, "(PID: "))
	codes := resp.Menu.Codes()
	require.Len(t, codes, 6)
	assert.Equal(t, []string{
		"kill_process_120", "kill_process_119", "kill_process_118",
		"kill_process_117", "kill_process_116", domain.CodeBackToMain,
	}, codes)
	assert.Less(t, strings.Index(resp.Text, "proc20"), strings.Index(resp.Text, "proc19"))
	assert.NotContains(t, resp.Text, "proc5 (PID")
	assert.True(t, h.d.State("c").Idle())
}

func TestWindowListing(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 6; i++ {
		h.provider.windows = append(h.provider.windows, domain.WindowInfo{
			Handle:  fmt.Sprintf("h%d", i),
			Title:   fmt.Sprintf("Window %d", i),
			Process: "app",
			PID:     "1",
		})
	}

	h.action("c", domain.CodeWindowList)
	resp := h.out.Last(t)

	require.Len(t, resp.Menu.Rows, 5)
	assert.Equal(t, []string{"activate_window_h0", "screenshot_window_h0"}, []string{
		resp.Menu.Rows[0][0].Code, resp.Menu.Rows[0][1].Code,
	})
	assert.Contains(t, resp.Text, "Window 5")
}

func TestListingsKeepEscapesOutsideEntities(t *testing.T) {
	procs := renderProcesses([]domain.ProcessInfo{{PID: 7, Name: "p_17*[x", CPU: 1}})
	assert.Contains(t, procs.Text, "1. p\\_17\\*\\[x (PID: 7)\n")

	wins := renderWindows([]domain.WindowInfo{{Handle: "h", Title: "*draft*_v2", Process: "ed_it", PID: "3"}})
	assert.Contains(t, wins.Text, "1. \\*draft\\*\\_v2\n")
	assert.Contains(t, wins.Text, "Process: ed\\_it (PID: 3)")

	info := renderSystemInfo(map[string]string{"Host": "box_1", "odd_key": "a*b"})
	assert.Contains(t, info.Text, "*Host:* box\\_1\n")
	assert.Contains(t, info.Text, "odd\\_key: a\\*b\n")
	assert.NotContains(t, info.Text, "*odd")

	for _, r := range []domain.Response{procs, wins, info} {
		unescaped := strings.ReplaceAll(r.Text, "\\*", "")
		assert.Equal(t, 0, strings.Count(unescaped, "*")%2, "unbalanced bold in %q", r.Text)
	}
}

func TestProviderFailureClearsPending(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.powerErr = errors.New("access denied")

	h.action("c", "power_shutdown")
	h.action("c", domain.ConfirmCode("power_shutdown"))

	resp := h.out.Last(t)
	assert.True(t, strings.HasPrefix(resp.Text, FailurePrefix), resp.Text)
	assert.Contains(t, resp.Text, "access denied")
	assert.True(t, h.d.State("c").Idle())

	h.provider.powerErr = nil
	h.action("c", "power_shutdown")
	h.action("c", domain.ConfirmCode("power_shutdown"))
	assert.Equal(t, []string{"set_power_state:shutdown", "set_power_state:shutdown"}, h.provider.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ProviderCalls.WithLabelValues("power_shutdown", "error")))
}

func TestRestartScenario(t *testing.T) {
	h := newHarness(t, nil)

	h.action("C", "power_restart")
	prompt := h.out.Last(t)
	assert.Equal(t, "⚠️ Are you sure you want to restart the computer?", prompt.Text)
	assert.Equal(t, State{Pending: "power_restart"}, h.d.State("C"))

	h.action("C", domain.ConfirmCode("power_restart"))
	assert.Equal(t, []string{"set_power_state:restart"}, h.provider.Calls())
	assert.Equal(t, "🔄 restart command issued", h.out.Last(t).Text)
	assert.True(t, h.d.State("C").Idle())

	assert.Equal(t, []string{domain.AuditConfirmRequested, domain.AuditConfirmed}, h.audit.Actions())
}

func TestScreenshotOrdering(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.shot = &domain.Screenshot{Message: "1920x1080", Image: []byte{0x89, 'P', 'N', 'G'}}

	h.action("c", domain.CodeScreenFull)

	msgs := h.out.All()
	require.Len(t, msgs, 3)
	assert.Equal(t, TextScreenshotWait, msgs[0].Response.Text)
	require.NotNil(t, msgs[1].Photo)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, msgs[1].Photo.Data)
	assert.Contains(t, msgs[1].Photo.Caption, "1920x1080")
	assert.Equal(t, TextScreenshotSent, msgs[2].Response.Text)
}

func TestScreenshotFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.shotErr = errors.New("no display")

	h.action("c", domain.ScreenshotWindowCode("0xabc"))

	msgs := h.out.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, TextScreenshotWait, msgs[0].Response.Text)
	assert.True(t, strings.HasPrefix(msgs[1].Response.Text, FailurePrefix))
	assert.Equal(t, []string{"capture_screenshot:window:0xabc"}, h.provider.Calls())
}

func TestUnknownCodeAndMenus(t *testing.T) {
	h := newHarness(t, nil)

	h.action("c", "format_disk")
	assert.Equal(t, TextUnrecognized, h.out.Last(t).Text)

	h.action("c", "power_shutdown")
	h.text("c", domain.IntentMenuSelect, "power")
	resp := h.out.Last(t)
	assert.Contains(t, resp.Menu.Codes(), "power_restart")
	assert.Equal(t, State{Pending: "power_shutdown"}, h.d.State("c"), "menu navigation keeps the pending entry")

	h.text("c", domain.IntentMenuSelect, "no such menu")
	resp = h.out.Last(t)
	assert.Equal(t, TextUnrecognized, resp.Text)
	assert.True(t, resp.MainMenu)

	h.text("c", domain.IntentCommand, "start")
	assert.True(t, h.out.Last(t).MainMenu)
	assert.Empty(t, h.provider.Calls())
}

func TestProviderPanicIsContained(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.panicKill = true

	h.action("c", "kill_process_9")

	resp := h.out.Last(t)
	assert.True(t, strings.HasPrefix(resp.Text, FailurePrefix))
	assert.Contains(t, resp.Text, "boom")
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RateLimitPerMinute = 1
		c.RateLimitBurst = 2
	})

	h.action("c", "sound_mute")
	h.action("c", "sound_mute")
	h.action("c", "sound_mute")

	assert.Len(t, h.provider.Calls(), 2)
	assert.Equal(t, TextRateLimited, h.out.Last(t).Text)

	h.action("other", "sound_mute")
	assert.Len(t, h.provider.Calls(), 3, "limits are per caller")
}

func TestPendingExpires(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ConfirmTTL = time.Millisecond })

	h.action("c", "power_shutdown")
	time.Sleep(5 * time.Millisecond)

	assert.True(t, h.d.State("c").Idle())
	h.action("c", domain.ConfirmCode("power_shutdown"))
	assert.Equal(t, TextNothingPending, h.out.Last(t).Text)
	assert.Empty(t, h.provider.Calls())
}

func TestConcurrentConfirmRunsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.action("c", "power_hibernate")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.action("c", domain.ConfirmCode("power_hibernate"))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"set_power_state:hibernate"}, h.provider.Calls())
}

func TestRunConsumesBus(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, func(c *Config) { c.Concurrency = 2 })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.d.Run(ctx)
		close(done)
	}()

	h.bus.Publish(domain.NewActionIntent(testChannel, "chat", "c", "1", "sound_100"))

	select {
	case <-h.out.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no response from Run")
	}
	assert.Equal(t, []string{"set_volume:100%"}, h.provider.Calls())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
