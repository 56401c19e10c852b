// Package capability implements domain.CapabilityProvider: System drives
// the local host, Unavailable refuses everything. Selection happens once at
// startup from configuration.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

var (
	// ErrUnavailable is returned by every operation of the Unavailable provider.
	ErrUnavailable = errors.New("host control is not available on this machine")
	// ErrUnsupported means the System provider has no command for the operation on this OS.
	ErrUnsupported = errors.New("not supported on this platform")
)

// Provider modes accepted by New.
const (
	ModeAuto        = "auto"
	ModeSystem      = "system"
	ModeUnavailable = "unavailable"
)

// New selects a provider. "auto" picks System on windows, linux and darwin
// and Unavailable elsewhere.
func New(mode string, commandTimeout time.Duration, logger *slog.Logger) (domain.CapabilityProvider, error) {
	switch mode {
	case "", ModeAuto:
		switch runtime.GOOS {
		case "windows", "linux", "darwin":
			return NewSystem(SystemConfig{Logger: logger, CommandTimeout: commandTimeout}), nil
		}
		logger.Warn("no host control for this OS, using unavailable provider", "goos", runtime.GOOS)
		return NewUnavailable(runtime.GOOS), nil
	case ModeSystem:
		return NewSystem(SystemConfig{Logger: logger, CommandTimeout: commandTimeout}), nil
	case ModeUnavailable:
		return NewUnavailable("disabled by configuration"), nil
	}
	return nil, fmt.Errorf("unknown provider mode %q (want auto, system or unavailable)", mode)
}

// Unavailable answers every request with ErrUnavailable. Read-only queries
// return empty results.
type Unavailable struct {
	reason string
}

func NewUnavailable(reason string) *Unavailable { return &Unavailable{reason: reason} }

func (u *Unavailable) Name() string { return "unavailable" }

func (u *Unavailable) err() error { return fmt.Errorf("%w (%s)", ErrUnavailable, u.reason) }

func (u *Unavailable) SystemInfo(context.Context) map[string]string {
	return map[string]string{"error": u.err().Error()}
}

func (u *Unavailable) ListProcesses(context.Context, int) ([]domain.ProcessInfo, error) {
	return nil, u.err()
}

func (u *Unavailable) KillProcess(context.Context, int) (string, error) { return "", u.err() }

func (u *Unavailable) ListWindows(context.Context) ([]domain.WindowInfo, error) {
	return nil, u.err()
}

func (u *Unavailable) ActivateWindow(context.Context, string) (string, error) { return "", u.err() }

func (u *Unavailable) SetPowerState(context.Context, domain.PowerState) (string, error) {
	return "", u.err()
}

func (u *Unavailable) SetVolume(context.Context, domain.VolumeOp) (string, error) {
	return "", u.err()
}

func (u *Unavailable) CaptureScreenshot(context.Context, domain.ScreenshotScope, string) (*domain.Screenshot, error) {
	return nil, u.err()
}

var (
	_ domain.CapabilityProvider = (*System)(nil)
	_ domain.CapabilityProvider = (*Unavailable)(nil)
)
