package domain

import "context"

// ProcessInfo is one running process as reported by the provider.
type ProcessInfo struct {
	PID  int
	Name string
	CPU  float64 // percent
	Mem  float64 // percent
}

// WindowInfo is one visible top-level window.
type WindowInfo struct {
	Handle  string
	Title   string
	Process string
	PID     string
}

// Screenshot is a captured image and a human-readable note about it.
type Screenshot struct {
	Message string
	Image   []byte
}

// CapabilityProvider performs the privileged host operations. It holds no
// state; every call is a function of its arguments. Calls may block.
type CapabilityProvider interface {
	Name() string

	// SystemInfo never fails; on error it returns a map with an "error" entry.
	SystemInfo(ctx context.Context) map[string]string

	// ListProcesses returns up to limit processes sorted by CPU descending.
	ListProcesses(ctx context.Context, limit int) ([]ProcessInfo, error)
	KillProcess(ctx context.Context, pid int) (string, error)

	ListWindows(ctx context.Context) ([]WindowInfo, error)
	ActivateWindow(ctx context.Context, handle string) (string, error)

	SetPowerState(ctx context.Context, state PowerState) (string, error)
	SetVolume(ctx context.Context, op VolumeOp) (string, error)

	// CaptureScreenshot captures the full screen, the active window (target
	// empty) or a specific window handle.
	CaptureScreenshot(ctx context.Context, scope ScreenshotScope, target string) (*Screenshot, error)
}
