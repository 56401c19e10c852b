package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownAction is returned by ParseAction for codes outside the known table.
var ErrUnknownAction = errors.New("unknown action code")

// ActionKind classifies an action code.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionBackToMain
	ActionSystemInfo
	ActionPower
	ActionScreenLock
	ActionScreenshot
	ActionProcessList
	ActionWindowList
	ActionKillProcess
	ActionActivateWindow
	ActionScreenshotWindow
	ActionVolume
	ActionConfirm
	ActionCancel
)

var actionKindNames = map[ActionKind]string{
	ActionUnknown:          "unknown",
	ActionBackToMain:       "back_main",
	ActionSystemInfo:       "system_info",
	ActionPower:            "power",
	ActionScreenLock:       "screen_lock",
	ActionScreenshot:       "screenshot",
	ActionProcessList:      "processes_list",
	ActionWindowList:       "windows_list",
	ActionKillProcess:      "kill_process",
	ActionActivateWindow:   "activate_window",
	ActionScreenshotWindow: "screenshot_window",
	ActionVolume:           "volume",
	ActionConfirm:          "confirm",
	ActionCancel:           "cancel",
}

func (k ActionKind) String() string {
	if s, ok := actionKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// PowerState is a host power transition requested through the provider.
type PowerState string

const (
	PowerShutdown  PowerState = "shutdown"
	PowerRestart   PowerState = "restart"
	PowerSleep     PowerState = "sleep"
	PowerHibernate PowerState = "hibernate"
	PowerLock      PowerState = "lock"
)

// ScreenshotScope selects what a screenshot covers.
type ScreenshotScope string

const (
	ScopeFull   ScreenshotScope = "full"
	ScopeWindow ScreenshotScope = "window"
)

// VolumeKind distinguishes the three volume operations.
type VolumeKind int

const (
	VolumeMute VolumeKind = iota + 1
	VolumeUnmute
	VolumeLevel
)

// VolumeOp is mute, unmute, or an absolute level in 0..100.
type VolumeOp struct {
	Kind  VolumeKind
	Level int
}

func (v VolumeOp) String() string {
	switch v.Kind {
	case VolumeMute:
		return "mute"
	case VolumeUnmute:
		return "unmute"
	case VolumeLevel:
		return fmt.Sprintf("%d%%", v.Level)
	}
	return "invalid"
}

// Action is a parsed action code. Only the fields relevant to Kind are set.
type Action struct {
	Kind   ActionKind
	Power  PowerState      // ActionPower
	Scope  ScreenshotScope // ActionScreenshot
	PID    int             // ActionKillProcess
	Handle string          // ActionActivateWindow, ActionScreenshotWindow
	Volume VolumeOp        // ActionVolume
	Target string          // ActionConfirm: code of the action being confirmed
	Raw    string          // original code, kept for unknown actions and logging
}

// Action code prefixes and fixed codes shared by menus and the parser.
const (
	CodeBackToMain   = "back_main"
	CodeSystemInfo   = "system_info"
	CodeScreenLock   = "screen_lock"
	CodeProcessList  = "processes_list"
	CodeWindowList   = "windows_list"
	CodeCancel       = "cancel_action"
	CodeScreenFull   = "screenshot_full"
	CodeScreenActive = "screenshot_window"

	prefixPower            = "power_"
	prefixConfirm          = "confirm_"
	prefixKillProcess      = "kill_process_"
	prefixActivateWindow   = "activate_window_"
	prefixScreenshotWindow = "screenshot_window_"
	prefixSound            = "sound_"
)

var criticalDescriptions = map[string]string{
	"power_shutdown":  "shut down the computer",
	"power_restart":   "restart the computer",
	"power_sleep":     "enter sleep mode",
	"power_hibernate": "enter hibernation",
	CodeScreenLock:    "lock the screen",
}

// IsCriticalCode reports whether code names an action that needs confirmation.
func IsCriticalCode(code string) bool {
	_, ok := criticalDescriptions[code]
	return ok
}

// CriticalDescription returns the human description used in confirmation prompts.
func CriticalDescription(code string) (string, bool) {
	d, ok := criticalDescriptions[code]
	return d, ok
}

// Critical reports whether the action must be confirmed before it runs.
// Process kills and window activation run without confirmation.
func (a Action) Critical() bool {
	return a.Kind == ActionPower || a.Kind == ActionScreenLock
}

// Code renders the canonical action code. ParseAction(a.Code()) == a for every
// valid action except Raw.
func (a Action) Code() string {
	switch a.Kind {
	case ActionBackToMain:
		return CodeBackToMain
	case ActionSystemInfo:
		return CodeSystemInfo
	case ActionPower:
		return prefixPower + string(a.Power)
	case ActionScreenLock:
		return CodeScreenLock
	case ActionScreenshot:
		if a.Scope == ScopeWindow {
			return CodeScreenActive
		}
		return CodeScreenFull
	case ActionProcessList:
		return CodeProcessList
	case ActionWindowList:
		return CodeWindowList
	case ActionKillProcess:
		return prefixKillProcess + strconv.Itoa(a.PID)
	case ActionActivateWindow:
		return prefixActivateWindow + a.Handle
	case ActionScreenshotWindow:
		return prefixScreenshotWindow + a.Handle
	case ActionVolume:
		switch a.Volume.Kind {
		case VolumeMute:
			return prefixSound + "mute"
		case VolumeUnmute:
			return prefixSound + "unmute"
		default:
			return prefixSound + strconv.Itoa(a.Volume.Level)
		}
	case ActionConfirm:
		return prefixConfirm + a.Target
	case ActionCancel:
		return CodeCancel
	}
	return a.Raw
}

// ParseAction turns an opaque action code into an Action. Codes are parsed
// once at the transport boundary; the dispatcher never inspects strings.
func ParseAction(code string) (Action, error) {
	code = strings.TrimSpace(code)
	a := Action{Raw: code}

	switch code {
	case CodeBackToMain:
		a.Kind = ActionBackToMain
		return a, nil
	case CodeSystemInfo:
		a.Kind = ActionSystemInfo
		return a, nil
	case CodeScreenLock:
		a.Kind = ActionScreenLock
		return a, nil
	case CodeScreenFull:
		a.Kind, a.Scope = ActionScreenshot, ScopeFull
		return a, nil
	case CodeScreenActive:
		a.Kind, a.Scope = ActionScreenshot, ScopeWindow
		return a, nil
	case CodeProcessList:
		a.Kind = ActionProcessList
		return a, nil
	case CodeWindowList:
		a.Kind = ActionWindowList
		return a, nil
	case CodeCancel:
		a.Kind = ActionCancel
		return a, nil
	}

	switch {
	case strings.HasPrefix(code, prefixConfirm):
		target := strings.TrimPrefix(code, prefixConfirm)
		if !IsCriticalCode(target) {
			return a, fmt.Errorf("%w: %q", ErrUnknownAction, code)
		}
		a.Kind, a.Target = ActionConfirm, target
		return a, nil

	case strings.HasPrefix(code, prefixPower):
		if !IsCriticalCode(code) {
			return a, fmt.Errorf("%w: %q", ErrUnknownAction, code)
		}
		a.Kind, a.Power = ActionPower, PowerState(strings.TrimPrefix(code, prefixPower))
		return a, nil

	case strings.HasPrefix(code, prefixKillProcess):
		pid, err := strconv.Atoi(strings.TrimPrefix(code, prefixKillProcess))
		if err != nil || pid <= 0 {
			return a, fmt.Errorf("%w: %q: bad pid", ErrUnknownAction, code)
		}
		a.Kind, a.PID = ActionKillProcess, pid
		return a, nil

	case strings.HasPrefix(code, prefixActivateWindow):
		h := strings.TrimPrefix(code, prefixActivateWindow)
		if h == "" {
			return a, fmt.Errorf("%w: %q: empty handle", ErrUnknownAction, code)
		}
		a.Kind, a.Handle = ActionActivateWindow, h
		return a, nil

	case strings.HasPrefix(code, prefixScreenshotWindow):
		h := strings.TrimPrefix(code, prefixScreenshotWindow)
		if h == "" {
			return a, fmt.Errorf("%w: %q: empty handle", ErrUnknownAction, code)
		}
		a.Kind, a.Handle = ActionScreenshotWindow, h
		return a, nil

	case strings.HasPrefix(code, prefixSound):
		arg := strings.TrimPrefix(code, prefixSound)
		a.Kind = ActionVolume
		switch arg {
		case "mute":
			a.Volume = VolumeOp{Kind: VolumeMute}
		case "unmute":
			a.Volume = VolumeOp{Kind: VolumeUnmute}
		default:
			level, err := strconv.Atoi(arg)
			if err != nil || level < 0 || level > 100 {
				return Action{Raw: code}, fmt.Errorf("%w: %q: volume must be 0..100", ErrUnknownAction, code)
			}
			a.Volume = VolumeOp{Kind: VolumeLevel, Level: level}
		}
		return a, nil
	}

	return a, fmt.Errorf("%w: %q", ErrUnknownAction, code)
}

// Helpers used when synthesizing per-entity codes from listings.

func KillProcessCode(pid int) string { return prefixKillProcess + strconv.Itoa(pid) }
func ActivateWindowCode(handle string) string { return prefixActivateWindow + handle }
func ScreenshotWindowCode(h string) string { return prefixScreenshotWindow + h }
func ConfirmCode(target string) string { return prefixConfirm + target }
