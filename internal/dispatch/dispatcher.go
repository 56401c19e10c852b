// Package dispatch classifies inbound intents, drives the per-caller
// confirmation state machine and invokes the capability provider.
//
// Per caller there are two states: Idle and AwaitingConfirmation(code).
// A critical action moves the caller to AwaitingConfirmation, replacing any
// earlier pending action. Confirm or Cancel (or expiry) moves it back to Idle.
// Every other intent leaves the state alone.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/confirm"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/metrics"
)

// Authorizer admits or rejects a caller. security.Guard implements it.
type Authorizer interface {
	IsAuthorized(caller domain.CallerID) bool
}

type Config struct {
	Provider domain.CapabilityProvider
	Auth     Authorizer
	Bus      domain.MessageBus
	Audit    domain.AuditLogger // optional
	Metrics  *metrics.Collector // optional; a private registry is used when nil
	Logger   *slog.Logger

	ConfirmTTL    time.Duration // zero: pending confirmations never expire
	SweepInterval time.Duration

	RateLimitPerMinute float64 // zero disables rate limiting
	RateLimitBurst     int

	Concurrency int // intents handled in parallel by Run
}

// Dispatcher is the command core. It is safe for concurrent use.
type Dispatcher struct {
	provider domain.CapabilityProvider
	auth     Authorizer
	bus      domain.MessageBus
	audit    domain.AuditLogger
	metrics  *metrics.Collector
	logger   *slog.Logger

	store         *confirm.Store
	sweepInterval time.Duration
	limiter       *callerLimiter
	concurrency   int
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	d := &Dispatcher{
		provider:      cfg.Provider,
		auth:          cfg.Auth,
		bus:           cfg.Bus,
		audit:         cfg.Audit,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		sweepInterval: cfg.SweepInterval,
		limiter:       newCallerLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		concurrency:   cfg.Concurrency,
	}
	d.store = confirm.New(confirm.Config{
		TTL:      cfg.ConfirmTTL,
		Logger:   cfg.Logger,
		OnExpire: d.onExpire,
	})
	return d
}

// State is the caller's position in the confirmation state machine.
type State struct {
	Pending string // action code awaiting confirmation; empty when idle
}

func (s State) Idle() bool { return s.Pending == "" }

func (d *Dispatcher) State(caller domain.CallerID) State {
	if p, ok := d.store.Peek(caller); ok {
		return State{Pending: p.Code}
	}
	return State{}
}

// Run consumes intents from the bus, handling up to Concurrency at once,
// and sweeps expired confirmations. It returns after ctx is cancelled or the
// bus closes and all in-flight intents have finished.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency, "provider", d.provider.Name())

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.store.Run(ctx, d.sweepInterval)
	}()

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case in, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(in domain.Intent) {
				defer wg.Done()
				defer func() { <-sem }()
				d.Handle(ctx, in)
			}(in)
		}
	}
}

// Handle processes one intent synchronously. Responses go out through the
// bus in the order they are produced. Handle never panics.
func (d *Dispatcher) Handle(ctx context.Context, in domain.Intent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling intent", "intent", in.ID, "panic", r)
			d.reply(in, domain.Response{Text: fmt.Sprintf("%s Internal error: %v", FailurePrefix, r)})
		}
	}()

	if !d.auth.IsAuthorized(in.Caller) {
		d.logger.Warn("unauthorized caller", "caller", in.Caller, "channel", in.Channel, "intent", in.ID)
		d.metrics.Denied.Inc()
		d.record(ctx, in, domain.AuditDenied, in.Action.Raw, "denied", in.Kind.String())
		d.reply(in, domain.Response{Text: TextDenied})
		return
	}

	if !d.limiter.Allow(in.Caller) {
		d.logger.Warn("caller rate limited", "caller", in.Caller, "intent", in.ID)
		d.metrics.RateLimited.Inc()
		d.record(ctx, in, domain.AuditRateLimited, in.Action.Raw, "denied", "")
		d.reply(in, domain.Response{Text: TextRateLimited})
		return
	}

	d.metrics.Intents.WithLabelValues(in.Kind.String()).Inc()
	d.logger.Debug("intent received",
		"intent", in.ID,
		"caller", in.Caller,
		"kind", in.Kind.String(),
		"text", in.Text,
		"action", in.Action.Kind.String(),
	)

	switch in.Kind {
	case domain.IntentCommand:
		d.handleCommand(ctx, in)
	case domain.IntentMenuSelect:
		d.handleMenu(ctx, in)
	case domain.IntentAction:
		d.handleAction(ctx, in)
	default:
		d.reply(in, domain.Response{Text: TextUnrecognized, Menu: mainMenu(), MainMenu: true})
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, in domain.Intent) {
	switch in.Text {
	case "start":
		d.reply(in, domain.Response{Text: textWelcome, Menu: mainMenu(), MainMenu: true})
	case "help":
		d.reply(in, domain.Response{Text: textHelp})
	default:
		d.reply(in, domain.Response{Text: TextUnrecognized, Menu: mainMenu(), MainMenu: true})
	}
}

func (d *Dispatcher) handleMenu(ctx context.Context, in domain.Intent) {
	label, ok := resolveLabel(in.Text)
	if !ok {
		d.reply(in, domain.Response{Text: TextUnrecognized, Menu: mainMenu(), MainMenu: true})
		return
	}

	switch label {
	case LabelSystemInfo:
		d.systemInfo(ctx, in)
	case LabelHelp:
		d.reply(in, domain.Response{Text: textHelp})
	default:
		sm := subMenus[label]
		d.reply(in, domain.Response{Text: sm.text, Menu: sm.menu})
	}
}

func (d *Dispatcher) handleAction(ctx context.Context, in domain.Intent) {
	a := in.Action

	switch a.Kind {
	case domain.ActionPower, domain.ActionScreenLock:
		d.requestConfirmation(ctx, in, a)
	case domain.ActionConfirm:
		d.confirm(ctx, in, a)
	case domain.ActionCancel:
		d.cancel(ctx, in)
	case domain.ActionBackToMain:
		d.reply(in, domain.Response{Text: TextMainMenu})
	case domain.ActionSystemInfo:
		d.systemInfo(ctx, in)
	case domain.ActionScreenshot:
		d.screenshot(ctx, in, a.Scope, "")
	case domain.ActionScreenshotWindow:
		d.screenshot(ctx, in, domain.ScopeWindow, a.Handle)
	case domain.ActionProcessList:
		d.processList(ctx, in)
	case domain.ActionWindowList:
		d.windowList(ctx, in)
	case domain.ActionKillProcess:
		d.direct(ctx, in, a, "⚠️", "Terminating the process", func(ctx context.Context) (string, error) {
			return d.provider.KillProcess(ctx, a.PID)
		})
	case domain.ActionActivateWindow:
		d.direct(ctx, in, a, "🪟", "Activating the window", func(ctx context.Context) (string, error) {
			return d.provider.ActivateWindow(ctx, a.Handle)
		})
	case domain.ActionVolume:
		d.direct(ctx, in, a, volumeIcon(a.Volume), "Changing the volume", func(ctx context.Context) (string, error) {
			return d.provider.SetVolume(ctx, a.Volume)
		})
	default:
		d.logger.Warn("unrecognized action code", "caller", in.Caller, "code", a.Raw, "intent", in.ID)
		d.reply(in, domain.Response{Text: TextUnrecognized})
	}
}

// requestConfirmation records the critical action as pending (last request
// wins) and asks the caller to confirm it.
func (d *Dispatcher) requestConfirmation(ctx context.Context, in domain.Intent, a domain.Action) {
	code := a.Code()
	desc, ok := domain.CriticalDescription(code)
	if !ok {
		d.logger.Error("critical action without description", "code", code)
		d.reply(in, domain.Response{Text: TextUnrecognized})
		return
	}

	prev, replaced := d.store.Put(in.Caller, code)
	d.syncPending()
	if replaced {
		d.logger.Info("pending confirmation replaced", "caller", in.Caller, "old", prev.Code, "new", code)
	}
	d.record(ctx, in, domain.AuditConfirmRequested, code, "ok", "")

	d.reply(in, domain.Response{
		Text: fmt.Sprintf("⚠️ Are you sure you want to %s?", desc),
		Menu: confirmMenu(code),
	})
}

func (d *Dispatcher) confirm(ctx context.Context, in domain.Intent, a domain.Action) {
	p, ok := d.store.Take(in.Caller)
	d.syncPending()
	if !ok {
		d.reply(in, domain.Response{Text: TextNothingPending})
		return
	}
	if a.Target != "" && a.Target != p.Code {
		d.logger.Info("stale confirmation ignored", "caller", in.Caller, "pressed", a.Target, "pending", p.Code)
		d.record(ctx, in, domain.AuditSuperseded, a.Target, "ok", "pending was "+p.Code)
		d.reply(in, domain.Response{Text: TextSuperseded})
		return
	}

	target, err := domain.ParseAction(p.Code)
	if err != nil || !target.Critical() {
		d.logger.Error("invalid pending action", "code", p.Code, "err", err)
		d.reply(in, domain.Response{Text: TextUnrecognized})
		return
	}

	state := target.Power
	if target.Kind == domain.ActionScreenLock {
		state = domain.PowerLock
	}

	// The entry is already gone, so a failure below never leaves the caller stuck.
	msg, err := d.call(ctx, p.Code, func(ctx context.Context) (string, error) {
		return d.provider.SetPowerState(ctx, state)
	})
	if err != nil {
		d.record(ctx, in, domain.AuditFailed, p.Code, "error", err.Error())
		d.reply(in, failure("Executing the action", err))
		return
	}
	d.record(ctx, in, domain.AuditConfirmed, p.Code, "ok", msg)
	d.reply(in, domain.Response{Text: powerIcons[state] + " " + msg})
}

func (d *Dispatcher) cancel(ctx context.Context, in domain.Intent) {
	existed := d.store.Clear(in.Caller)
	d.syncPending()
	if !existed {
		d.reply(in, domain.Response{Text: TextNothingPending})
		return
	}
	d.record(ctx, in, domain.AuditCancelled, "", "ok", "")
	d.reply(in, domain.Response{Text: TextCancelled})
}

// direct runs a non-critical action immediately.
func (d *Dispatcher) direct(ctx context.Context, in domain.Intent, a domain.Action, icon, what string, fn func(context.Context) (string, error)) {
	code := a.Code()
	msg, err := d.call(ctx, code, fn)
	if err != nil {
		d.record(ctx, in, domain.AuditFailed, code, "error", err.Error())
		d.reply(in, failure(what, err))
		return
	}
	d.record(ctx, in, domain.AuditExecuted, code, "ok", msg)
	d.reply(in, domain.Response{Text: icon + " " + msg})
}

func (d *Dispatcher) systemInfo(ctx context.Context, in domain.Intent) {
	var info map[string]string
	_, _ = d.call(ctx, domain.CodeSystemInfo, func(ctx context.Context) (string, error) {
		info = d.provider.SystemInfo(ctx)
		return "", nil
	})
	if len(info) == 0 {
		info = map[string]string{"error": "no information available"}
	}
	d.reply(in, renderSystemInfo(info))
}

func (d *Dispatcher) processList(ctx context.Context, in domain.Intent) {
	var procs []domain.ProcessInfo
	_, err := d.call(ctx, domain.CodeProcessList, func(ctx context.Context) (string, error) {
		var err error
		procs, err = d.provider.ListProcesses(ctx, ProcessListLimit)
		return "", err
	})
	if err != nil {
		d.reply(in, failure("Listing processes", err))
		return
	}
	d.reply(in, renderProcesses(procs))
}

func (d *Dispatcher) windowList(ctx context.Context, in domain.Intent) {
	var wins []domain.WindowInfo
	_, err := d.call(ctx, domain.CodeWindowList, func(ctx context.Context) (string, error) {
		var err error
		wins, err = d.provider.ListWindows(ctx)
		return "", err
	})
	if err != nil {
		d.reply(in, failure("Listing windows", err))
		return
	}
	d.reply(in, renderWindows(wins))
}

// screenshot sends an interim notice, then the image (or an error), then a
// final notice. The three messages leave in that order.
func (d *Dispatcher) screenshot(ctx context.Context, in domain.Intent, scope domain.ScreenshotScope, target string) {
	code := in.Action.Code()
	d.reply(in, domain.Response{Text: TextScreenshotWait})

	var shot *domain.Screenshot
	_, err := d.call(ctx, code, func(ctx context.Context) (string, error) {
		var err error
		shot, err = d.provider.CaptureScreenshot(ctx, scope, target)
		return "", err
	})
	if err == nil && (shot == nil || len(shot.Image) == 0) {
		err = fmt.Errorf("provider returned no image")
	}
	if err != nil {
		d.record(ctx, in, domain.AuditFailed, code, "error", err.Error())
		d.reply(in, failure("Taking the screenshot", err))
		return
	}

	caption := fmt.Sprintf("📸 Screenshot (%s)", scope)
	if target != "" {
		caption = fmt.Sprintf("📸 Screenshot of window %s", target)
	}
	if shot.Message != "" {
		caption += "\n" + shot.Message
	}
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel:  in.Channel,
		ChatID:   in.ChatID,
		IntentID: in.ID,
		Photo:    &domain.Photo{Data: shot.Image, Name: "screenshot.png", Caption: caption},
	})
	d.record(ctx, in, domain.AuditExecuted, code, "ok", shot.Message)
	d.reply(in, domain.Response{Text: TextScreenshotSent})
}

// call invokes the provider with timing, metrics and panic containment. It
// must never be called while holding the confirmation store.
func (d *Dispatcher) call(ctx context.Context, code string, fn func(context.Context) (string, error)) (msg string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
		took := time.Since(start)
		d.metrics.ObserveProvider(metricLabel(code), err, took)
		if err != nil {
			d.logger.Warn("provider call failed", "action", code, "err", err, "took", took)
		} else {
			d.logger.Info("provider call", "action", code, "took", took)
		}
	}()
	return fn(ctx)
}

// metricLabel maps an action code to a bounded label: PIDs and window
// handles are dropped, power states kept.
func metricLabel(code string) string {
	a, err := domain.ParseAction(code)
	if err != nil {
		return "unknown"
	}
	if a.Kind == domain.ActionPower {
		return a.Code()
	}
	return a.Kind.String()
}

func (d *Dispatcher) reply(in domain.Intent, r domain.Response) {
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel:  in.Channel,
		ChatID:   in.ChatID,
		EditID:   in.MessageID,
		IntentID: in.ID,
		Response: &r,
	})
}

func (d *Dispatcher) record(ctx context.Context, in domain.Intent, action, code, result, details string) {
	if d.audit == nil {
		return
	}
	// Audit rows are written even while shutting down.
	err := d.audit.LogAudit(context.WithoutCancel(ctx), domain.AuditEntry{
		IntentID: in.ID,
		Caller:   string(in.Caller),
		Action:   action,
		Code:     code,
		Result:   result,
		Details:  details,
	})
	if err != nil {
		d.logger.Warn("audit write failed", "err", err, "action", action)
	}
}

func (d *Dispatcher) onExpire(p confirm.Pending) {
	d.syncPending()
	if d.audit == nil {
		return
	}
	err := d.audit.LogAudit(context.Background(), domain.AuditEntry{
		Caller: string(p.Caller),
		Action: domain.AuditExpired,
		Code:   p.Code,
		Result: "ok",
	})
	if err != nil {
		d.logger.Warn("audit write failed", "err", err, "action", domain.AuditExpired)
	}
}

func (d *Dispatcher) syncPending() {
	d.metrics.Pending.Set(float64(d.store.Len()))
}

func failure(what string, err error) domain.Response {
	return domain.Response{Text: fmt.Sprintf("%s %s failed: %v", FailurePrefix, what, err)}
}
