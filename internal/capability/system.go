package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// Runner executes an external program and returns its stdout.
type Runner func(ctx context.Context, c command) ([]byte, error)

func execRunner(ctx context.Context, c command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.Name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	return stdout.Bytes(), nil
}

// System controls the local host: gopsutil for metrics and processes, OS
// commands for power, sound, windows and screenshots.
type System struct {
	goos           string
	run            Runner
	logger         *slog.Logger
	commandTimeout time.Duration
}

type SystemConfig struct {
	GOOS           string // defaults to runtime.GOOS
	Runner         Runner
	Logger         *slog.Logger
	CommandTimeout time.Duration
}

func NewSystem(cfg SystemConfig) *System {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	return &System{
		goos:           cfg.GOOS,
		run:            cfg.Runner,
		logger:         cfg.Logger,
		commandTimeout: cfg.CommandTimeout,
	}
}

func (s *System) Name() string { return "system/" + s.goos }

func (s *System) exec(ctx context.Context, c command) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	s.logger.Debug("running command", "cmd", c.String())
	return s.run(ctx, c)
}

func (s *System) SystemInfo(ctx context.Context) map[string]string {
	info := make(map[string]string)

	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	info["Host"] = h.Hostname
	info["OS"] = strings.TrimSpace(fmt.Sprintf("%s %s %s", h.Platform, h.PlatformVersion, h.KernelArch))
	info["Uptime"] = formatUptime(time.Duration(h.Uptime) * time.Second)

	if u, err := user.Current(); err == nil {
		info["User"] = u.Username
	}

	cores, _ := cpu.CountsWithContext(ctx, true)
	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		info["CPU"] = fmt.Sprintf("%d cores, load %.1f%%", cores, pct[0])
	} else {
		info["CPU"] = fmt.Sprintf("%d cores", cores)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info["RAM"] = usage(vm.Used, vm.Total, vm.UsedPercent)
	} else {
		info["RAM"] = "unknown"
	}

	if du, err := disk.UsageWithContext(ctx, rootPath()); err == nil {
		info["Disk"] = usage(du.Used, du.Total, du.UsedPercent)
	} else {
		info["Disk"] = "unknown"
	}
	return info
}

func rootPath() string {
	if runtime.GOOS == "windows" {
		if d := os.Getenv("SystemDrive"); d != "" {
			return d + `\`
		}
		return `C:\`
	}
	return "/"
}

func usage(used, total uint64, pct float64) string {
	const gb = 1 << 30
	return fmt.Sprintf("%.1fGB / %.1fGB (%.1f%%)", float64(used)/gb, float64(total)/gb, pct)
}

func formatUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, sec)
}

func (s *System) ListProcesses(ctx context.Context, limit int) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // exited or not accessible
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		out = append(out, domain.ProcessInfo{
			PID:  int(p.Pid),
			Name: name,
			CPU:  cpuPct,
			Mem:  float64(memPct),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CPU > out[j].CPU })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *System) KillProcess(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return "", fmt.Errorf("process with PID %d not found", pid)
		}
		return "", fmt.Errorf("find process %d: %w", pid, err)
	}
	name, _ := p.NameWithContext(ctx)
	if err := p.KillWithContext(ctx); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return "", fmt.Errorf("no permission to terminate PID %d", pid)
		}
		return "", fmt.Errorf("terminate process %d: %w", pid, err)
	}
	s.logger.Info("process terminated", "pid", pid, "name", name)
	return fmt.Sprintf("Process %s (PID: %d) terminated", name, pid), nil
}

func (s *System) ListWindows(ctx context.Context) ([]domain.WindowInfo, error) {
	c, err := listWindowsCommand(s.goos)
	if err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	wins, err := parseWindowList(s.goos, string(out))
	if err != nil {
		return nil, err
	}
	for i := range wins {
		if wins[i].Process != "" {
			continue
		}
		if pid, err := strconv.Atoi(wins[i].PID); err == nil && pid > 0 {
			if p, err := process.NewProcessWithContext(ctx, int32(pid)); err == nil {
				wins[i].Process, _ = p.NameWithContext(ctx)
			}
		}
	}
	return wins, nil
}

func (s *System) ActivateWindow(ctx context.Context, handle string) (string, error) {
	c, err := activateWindowCommand(s.goos, handle)
	if err != nil {
		return "", err
	}
	if _, err := s.exec(ctx, c); err != nil {
		return "", fmt.Errorf("activate window %s: %w", handle, err)
	}
	return fmt.Sprintf("Window %s activated", handle), nil
}

func (s *System) SetPowerState(ctx context.Context, state domain.PowerState) (string, error) {
	c, err := powerCommand(s.goos, state)
	if err != nil {
		return "", err
	}
	s.logger.Warn("changing power state", "state", state, "cmd", c.String())
	if _, err := s.exec(ctx, c); err != nil {
		return "", fmt.Errorf("%s: %w", state, err)
	}
	return powerMessages[state], nil
}

func (s *System) SetVolume(ctx context.Context, op domain.VolumeOp) (string, error) {
	if op.Kind == domain.VolumeLevel && (op.Level < 0 || op.Level > 100) {
		return "", fmt.Errorf("volume level must be 0..100, got %d", op.Level)
	}
	c, err := volumeCommand(s.goos, op)
	if err != nil {
		return "", err
	}
	if _, err := s.exec(ctx, c); err != nil {
		return "", fmt.Errorf("set volume: %w", err)
	}
	return volumeMessage(op), nil
}

func (s *System) CaptureScreenshot(ctx context.Context, scope domain.ScreenshotScope, target string) (*domain.Screenshot, error) {
	if scope == domain.ScopeWindow && target != "" && s.goos == "windows" {
		// nircmd can only capture the foreground window.
		if _, err := s.ActivateWindow(ctx, target); err != nil {
			return nil, err
		}
		time.Sleep(300 * time.Millisecond)
	}

	dir, err := os.MkdirTemp("", "remotebot-shot-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "screenshot.png")

	c, err := screenshotCommand(s.goos, scope, target, path)
	if err != nil {
		return nil, err
	}
	if _, err := s.exec(ctx, c); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("screenshot is empty")
	}
	return &domain.Screenshot{
		Message: fmt.Sprintf("%s, %d KB", time.Now().Format("2006-01-02 15:04:05"), len(img)/1024),
		Image:   img,
	}, nil
}
