package capability

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// command is one external program invocation.
type command struct {
	Name string
	Args []string
}

func (c command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

func cmd(name string, args ...string) command { return command{Name: name, Args: args} }

func powerCommand(goos string, state domain.PowerState) (command, error) {
	switch goos {
	case "windows":
		switch state {
		case domain.PowerShutdown:
			return cmd("shutdown", "/s", "/t", "0"), nil
		case domain.PowerRestart:
			return cmd("shutdown", "/r", "/t", "0"), nil
		case domain.PowerSleep:
			return cmd("rundll32.exe", "powrprof.dll,SetSuspendState", "0,1,0"), nil
		case domain.PowerHibernate:
			return cmd("shutdown", "/h"), nil
		case domain.PowerLock:
			return cmd("rundll32.exe", "user32.dll,LockWorkStation"), nil
		}
	case "linux":
		switch state {
		case domain.PowerShutdown:
			return cmd("systemctl", "poweroff"), nil
		case domain.PowerRestart:
			return cmd("systemctl", "reboot"), nil
		case domain.PowerSleep:
			return cmd("systemctl", "suspend"), nil
		case domain.PowerHibernate:
			return cmd("systemctl", "hibernate"), nil
		case domain.PowerLock:
			return cmd("loginctl", "lock-session"), nil
		}
	case "darwin":
		switch state {
		case domain.PowerShutdown:
			return cmd("osascript", "-e", `tell app "System Events" to shut down`), nil
		case domain.PowerRestart:
			return cmd("osascript", "-e", `tell app "System Events" to restart`), nil
		case domain.PowerSleep:
			return cmd("pmset", "sleepnow"), nil
		case domain.PowerLock:
			// Ctrl+Cmd+Q is the system Lock Screen shortcut; sending it needs
			// the Accessibility permission.
			return cmd("osascript", "-e", macLockScript), nil
		}
	}
	return command{}, fmt.Errorf("%w: power state %q on %s", ErrUnsupported, state, goos)
}

const macLockScript = `tell application "System Events" to keystroke "q" using {control down, command down}`

var powerMessages = map[domain.PowerState]string{
	domain.PowerShutdown:  "Shutdown command sent",
	domain.PowerRestart:   "Restart command sent",
	domain.PowerSleep:     "The computer is going to sleep",
	domain.PowerHibernate: "The computer is hibernating",
	domain.PowerLock:      "Screen locked",
}

func volumeCommand(goos string, op domain.VolumeOp) (command, error) {
	switch goos {
	case "windows":
		switch op.Kind {
		case domain.VolumeMute:
			return cmd("nircmd.exe", "mutesysvolume", "1"), nil
		case domain.VolumeUnmute:
			return cmd("nircmd.exe", "mutesysvolume", "0"), nil
		case domain.VolumeLevel:
			return cmd("nircmd.exe", "setsysvolume", strconv.Itoa(op.Level*65535/100)), nil
		}
	case "linux":
		switch op.Kind {
		case domain.VolumeMute:
			return cmd("pactl", "set-sink-mute", "@DEFAULT_SINK@", "1"), nil
		case domain.VolumeUnmute:
			return cmd("pactl", "set-sink-mute", "@DEFAULT_SINK@", "0"), nil
		case domain.VolumeLevel:
			return cmd("pactl", "set-sink-volume", "@DEFAULT_SINK@", strconv.Itoa(op.Level)+"%"), nil
		}
	case "darwin":
		switch op.Kind {
		case domain.VolumeMute:
			return cmd("osascript", "-e", "set volume output muted true"), nil
		case domain.VolumeUnmute:
			return cmd("osascript", "-e", "set volume output muted false"), nil
		case domain.VolumeLevel:
			return cmd("osascript", "-e", fmt.Sprintf("set volume output volume %d", op.Level)), nil
		}
	}
	return command{}, fmt.Errorf("%w: volume %s on %s", ErrUnsupported, op, goos)
}

func volumeMessage(op domain.VolumeOp) string {
	switch op.Kind {
	case domain.VolumeMute:
		return "Sound muted"
	case domain.VolumeUnmute:
		return "Sound unmuted"
	}
	return fmt.Sprintf("Volume set to %d%%", op.Level)
}

const windowsListScript = `Get-Process | Where-Object { $_.MainWindowTitle } | ` +
	`Select-Object MainWindowHandle,MainWindowTitle,ProcessName,Id | ConvertTo-Csv -NoTypeInformation`

func listWindowsCommand(goos string) (command, error) {
	switch goos {
	case "windows":
		return cmd("powershell", "-NoProfile", "-Command", windowsListScript), nil
	case "linux":
		return cmd("wmctrl", "-lp"), nil
	}
	return command{}, fmt.Errorf("%w: window listing on %s", ErrUnsupported, goos)
}

func activateWindowCommand(goos, handle string) (command, error) {
	switch goos {
	case "windows":
		return cmd("nircmd.exe", "win", "activate", "handle", handle), nil
	case "linux":
		return cmd("wmctrl", "-i", "-a", handle), nil
	}
	return command{}, fmt.Errorf("%w: window activation on %s", ErrUnsupported, goos)
}

// screenshotCommand writes a PNG to path. An empty target with ScopeWindow
// means the active window.
func screenshotCommand(goos string, scope domain.ScreenshotScope, target, path string) (command, error) {
	switch goos {
	case "windows":
		if scope == domain.ScopeFull {
			return cmd("nircmd.exe", "savescreenshot", path), nil
		}
		return cmd("nircmd.exe", "savescreenshotwin", path), nil
	case "linux":
		switch {
		case scope == domain.ScopeFull:
			return cmd("import", "-window", "root", path), nil
		case target != "":
			return cmd("import", "-window", target, path), nil
		}
		return cmd("scrot", "--focused", "--overwrite", path), nil
	case "darwin":
		switch {
		case scope == domain.ScopeFull:
			return cmd("screencapture", "-x", path), nil
		case target != "":
			return cmd("screencapture", "-x", "-l", target, path), nil
		}
	}
	return command{}, fmt.Errorf("%w: %s screenshot on %s", ErrUnsupported, scope, goos)
}

// RequiredTools lists the external programs the System provider runs on goos,
// in first-use order. Operations unsupported on goos contribute nothing.
func RequiredTools(goos string) []string {
	var cmds []command
	add := func(c command, err error) {
		if err == nil {
			cmds = append(cmds, c)
		}
	}
	for _, st := range []domain.PowerState{domain.PowerShutdown, domain.PowerRestart, domain.PowerSleep, domain.PowerHibernate, domain.PowerLock} {
		add(powerCommand(goos, st))
	}
	add(volumeCommand(goos, domain.VolumeOp{Kind: domain.VolumeMute}))
	add(listWindowsCommand(goos))
	add(activateWindowCommand(goos, "0"))
	add(screenshotCommand(goos, domain.ScopeFull, "", "x.png"))
	add(screenshotCommand(goos, domain.ScopeWindow, "", "x.png"))

	seen := make(map[string]bool)
	var tools []string
	for _, c := range cmds {
		if !seen[c.Name] {
			seen[c.Name] = true
			tools = append(tools, c.Name)
		}
	}
	return tools
}

// parseWindowList decodes the output of listWindowsCommand.
func parseWindowList(goos, out string) ([]domain.WindowInfo, error) {
	switch goos {
	case "windows":
		return parseWindowsCSV(out)
	case "linux":
		return parseWmctrl(out), nil
	}
	return nil, fmt.Errorf("%w: window listing on %s", ErrUnsupported, goos)
}

func parseWindowsCSV(out string) ([]domain.WindowInfo, error) {
	r := csv.NewReader(strings.NewReader(out))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse window list: %w", err)
	}
	var wins []domain.WindowInfo
	for i, rec := range records {
		if i == 0 || len(rec) < 4 {
			continue
		}
		if rec[0] == "" || rec[0] == "0" || strings.TrimSpace(rec[1]) == "" {
			continue
		}
		wins = append(wins, domain.WindowInfo{
			Handle:  rec[0],
			Title:   rec[1],
			Process: rec[2],
			PID:     rec[3],
		})
	}
	return wins, nil
}

// parseWmctrl reads `wmctrl -lp` lines: id desktop pid host title...
// Process names are filled in later from the pid.
func parseWmctrl(out string) []domain.WindowInfo {
	var wins []domain.WindowInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if fields[1] == "-1" {
			continue // sticky panels and docks
		}
		wins = append(wins, domain.WindowInfo{
			Handle: fields[0],
			PID:    fields[2],
			Title:  strings.Join(fields[4:], " "),
		})
	}
	return wins
}
