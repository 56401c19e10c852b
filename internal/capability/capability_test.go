package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPowerCommands(t *testing.T) {
	tests := []struct {
		goos  string
		state domain.PowerState
		want  string
	}{
		{"windows", domain.PowerShutdown, "shutdown /s /t 0"},
		{"windows", domain.PowerRestart, "shutdown /r /t 0"},
		{"windows", domain.PowerSleep, "rundll32.exe powrprof.dll,SetSuspendState 0,1,0"},
		{"windows", domain.PowerHibernate, "shutdown /h"},
		{"windows", domain.PowerLock, "rundll32.exe user32.dll,LockWorkStation"},
		{"linux", domain.PowerRestart, "systemctl reboot"},
		{"linux", domain.PowerLock, "loginctl lock-session"},
		{"darwin", domain.PowerSleep, "pmset sleepnow"},
		{"darwin", domain.PowerLock, `osascript -e tell application "System Events" to keystroke "q" using {control down, command down}`},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+string(tt.state), func(t *testing.T) {
			c, err := powerCommand(tt.goos, tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.String())
		})
	}

	_, err := powerCommand("darwin", domain.PowerHibernate)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = powerCommand("plan9", domain.PowerShutdown)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestVolumeCommands(t *testing.T) {
	c, err := volumeCommand("windows", domain.VolumeOp{Kind: domain.VolumeLevel, Level: 50})
	require.NoError(t, err)
	assert.Equal(t, "nircmd.exe setsysvolume 32767", c.String())

	c, err = volumeCommand("windows", domain.VolumeOp{Kind: domain.VolumeLevel, Level: 100})
	require.NoError(t, err)
	assert.Equal(t, "nircmd.exe setsysvolume 65535", c.String())

	c, err = volumeCommand("linux", domain.VolumeOp{Kind: domain.VolumeMute})
	require.NoError(t, err)
	assert.Equal(t, "pactl set-sink-mute @DEFAULT_SINK@ 1", c.String())

	assert.Equal(t, "Volume set to 30%", volumeMessage(domain.VolumeOp{Kind: domain.VolumeLevel, Level: 30}))
}

func TestScreenshotCommands(t *testing.T) {
	c, err := screenshotCommand("linux", domain.ScopeFull, "", "/tmp/x.png")
	require.NoError(t, err)
	assert.Equal(t, "import -window root /tmp/x.png", c.String())

	c, err = screenshotCommand("linux", domain.ScopeWindow, "0x3a00003", "/tmp/x.png")
	require.NoError(t, err)
	assert.Equal(t, "import -window 0x3a00003 /tmp/x.png", c.String())

	c, err = screenshotCommand("windows", domain.ScopeWindow, "", `C:\t\x.png`)
	require.NoError(t, err)
	assert.Equal(t, `nircmd.exe savescreenshotwin C:\t\x.png`, c.String())

	_, err = screenshotCommand("darwin", domain.ScopeWindow, "", "/tmp/x.png")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParseWindowsCSV(t *testing.T) {
	out := `"MainWindowHandle","MainWindowTitle","ProcessName","Id"
"132456","Untitled - Notepad","notepad","4242"
"0","ghost","svc","1"
"98765","Report, final.docx - Word","WINWORD","777"
`
	wins, err := parseWindowList("windows", out)
	require.NoError(t, err)
	require.Len(t, wins, 2)
	assert.Equal(t, domain.WindowInfo{Handle: "132456", Title: "Untitled - Notepad", Process: "notepad", PID: "4242"}, wins[0])
	assert.Equal(t, "Report, final.docx - Word", wins[1].Title)
}

func TestParseWmctrl(t *testing.T) {
	out := "0x01e00003 -1 1234 box Desktop panel\n" +
		"0x03a00003  0 5678 box Terminal - user@box: ~\n" +
		"garbage\n"
	wins, err := parseWindowList("linux", out)
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, "0x03a00003", wins[0].Handle)
	assert.Equal(t, "5678", wins[0].PID)
	assert.Equal(t, "Terminal - user@box: ~", wins[0].Title)
}

type recordingRunner struct {
	calls []string
	err   error
}

func (r *recordingRunner) run(_ context.Context, c command) ([]byte, error) {
	r.calls = append(r.calls, c.String())
	if r.err != nil {
		return nil, r.err
	}
	if c.Name == "import" {
		// Pretend to write the PNG the command was asked for.
		path := c.Args[len(c.Args)-1]
		if err := os.WriteFile(path, []byte("\x89PNGfake"), 0o600); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestSystemRunsCommands(t *testing.T) {
	r := &recordingRunner{}
	s := NewSystem(SystemConfig{GOOS: "linux", Runner: r.run, Logger: testLogger()})

	msg, err := s.SetPowerState(context.Background(), domain.PowerRestart)
	require.NoError(t, err)
	assert.Equal(t, "Restart command sent", msg)

	msg, err = s.SetVolume(context.Background(), domain.VolumeOp{Kind: domain.VolumeUnmute})
	require.NoError(t, err)
	assert.Equal(t, "Sound unmuted", msg)

	shot, err := s.CaptureScreenshot(context.Background(), domain.ScopeFull, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNGfake"), shot.Image)

	require.Len(t, r.calls, 3)
	assert.Equal(t, "systemctl reboot", r.calls[0])
	assert.True(t, strings.HasPrefix(r.calls[2], "import -window root "))
}

func TestSystemCommandFailure(t *testing.T) {
	r := &recordingRunner{err: errors.New("exit status 1")}
	s := NewSystem(SystemConfig{GOOS: "linux", Runner: r.run, Logger: testLogger()})

	_, err := s.SetPowerState(context.Background(), domain.PowerShutdown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")

	_, err = s.SetVolume(context.Background(), domain.VolumeOp{Kind: domain.VolumeLevel, Level: 150})
	require.Error(t, err)
	assert.Len(t, r.calls, 1, "invalid level never reaches the OS")
}

func TestUnavailable(t *testing.T) {
	u := NewUnavailable("test")
	ctx := context.Background()

	_, err := u.SetPowerState(ctx, domain.PowerShutdown)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = u.CaptureScreenshot(ctx, domain.ScopeFull, "")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = u.ListProcesses(ctx, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, u.SystemInfo(ctx), "error")
}

func TestNewModes(t *testing.T) {
	p, err := New(ModeUnavailable, 0, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "unavailable", p.Name())

	p, err = New(ModeSystem, 0, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &System{}, p)

	_, err = New("magic", 0, testLogger())
	assert.Error(t, err)
}

func TestRequiredTools(t *testing.T) {
	assert.Equal(t,
		[]string{"systemctl", "loginctl", "pactl", "wmctrl", "import", "scrot"},
		RequiredTools("linux"))
	assert.Equal(t,
		[]string{"shutdown", "rundll32.exe", "nircmd.exe", "powershell"},
		RequiredTools("windows"))
	assert.Empty(t, RequiredTools("plan9"))
}
