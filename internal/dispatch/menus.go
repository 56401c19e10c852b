package dispatch

import (
	"strings"
	"unicode"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// Main menu labels. The main keyboard sends the label text back verbatim.
const (
	LabelPower      = "💻 Power"
	LabelScreen     = "🔒 Screen lock"
	LabelScreenshot = "📸 Screenshot"
	LabelWindows    = "🪟 Windows"
	LabelProcesses  = "📋 Processes"
	LabelSound      = "🔊 Sound"
	LabelSystemInfo = "ℹ️ System info"
	LabelHelp       = "❓ Help"
)

// Fixed response texts.
const (
	FailurePrefix = "❌"

	TextDenied         = "⛔ You do not have access to this bot."
	TextRateLimited    = "⏳ Too many requests. Wait a moment and try again."
	TextUnrecognized   = "❓ Unrecognized command. Use the menu buttons."
	TextNothingPending = "ℹ️ Nothing to do: no action is awaiting confirmation."
	TextCancelled      = "❌ Action cancelled."
	TextSuperseded     = "⚠️ That confirmation is out of date, nothing was executed. Request the action again."
	TextMainMenu       = "🏠 Main menu. Choose a function:"
	TextScreenshotWait = "📸 Taking screenshot..."
	TextScreenshotSent = "✅ Screenshot sent!"

	textWelcome = "🤖 Welcome to the remote control bot!\n\n" +
		"Available functions:\n" +
		"💻 Power: shut down, restart, sleep, hibernate\n" +
		"🔒 Screen lock\n" +
		"📸 Screenshots\n" +
		"🪟 Window management\n" +
		"📋 Processes\n" +
		"🔊 Sound\n" +
		"ℹ️ System information\n" +
		"\nChoose a function from the menu below:"

	textHelp = "🤖 Remote control bot help\n\n" +
		"💻 Power:\n• Shut down\n• Restart\n• Sleep\n• Hibernate\n\n" +
		"🔒 Screen:\n• Lock the screen\n\n" +
		"📸 Screenshots:\n• Full screen\n• Active window\n• Any listed window\n\n" +
		"🪟 Windows:\n• List visible windows\n• Activate a window\n\n" +
		"📋 Processes:\n• List the busiest processes\n• Terminate a process\n\n" +
		"🔊 Sound:\n• Mute / unmute\n• Set volume\n\n" +
		"⚠️ Power and lock actions ask for confirmation first."
)

func mainMenu() *domain.Menu {
	row := func(labels ...string) []domain.Button {
		out := make([]domain.Button, len(labels))
		for i, l := range labels {
			out[i] = domain.Button{Label: l, Code: l}
		}
		return out
	}
	return &domain.Menu{Rows: [][]domain.Button{
		row(LabelPower, LabelScreen),
		row(LabelScreenshot, LabelWindows),
		row(LabelProcesses, LabelSound),
		row(LabelSystemInfo, LabelHelp),
	}}
}

func backRow() []domain.Button {
	return []domain.Button{{Label: "◀️ Back", Code: domain.CodeBackToMain}}
}

func column(buttons ...domain.Button) *domain.Menu {
	m := &domain.Menu{}
	for _, b := range buttons {
		m.Rows = append(m.Rows, []domain.Button{b})
	}
	m.Rows = append(m.Rows, backRow())
	return m
}

type subMenu struct {
	text string
	menu *domain.Menu
}

var subMenus = map[string]subMenu{
	LabelPower: {"⚡ Choose an action:", column(
		domain.Button{Label: "🔴 Shut down", Code: "power_shutdown"},
		domain.Button{Label: "🔄 Restart", Code: "power_restart"},
		domain.Button{Label: "😴 Sleep", Code: "power_sleep"},
		domain.Button{Label: "🛌 Hibernate", Code: "power_hibernate"},
	)},
	LabelScreen: {"🔐 Screen control:", column(
		domain.Button{Label: "🔒 Lock", Code: domain.CodeScreenLock},
	)},
	LabelScreenshot: {"📷 Choose a screenshot type:", column(
		domain.Button{Label: "🖥️ Full screen", Code: domain.CodeScreenFull},
		domain.Button{Label: "🪟 Active window", Code: domain.CodeScreenActive},
	)},
	LabelWindows: {"🪟 Window management:", column(
		domain.Button{Label: "🪟 List windows", Code: domain.CodeWindowList},
	)},
	LabelProcesses: {"📋 Process management:", column(
		domain.Button{Label: "📋 List processes", Code: domain.CodeProcessList},
	)},
	LabelSound: {"🔊 Sound control:", column(
		domain.Button{Label: "🔇 Mute", Code: "sound_mute"},
		domain.Button{Label: "🔊 Unmute", Code: "sound_unmute"},
		domain.Button{Label: "🔉 Volume 50%", Code: "sound_50"},
		domain.Button{Label: "🔊 Volume 100%", Code: "sound_100"},
	)},
}

func confirmMenu(code string) *domain.Menu {
	return &domain.Menu{Rows: [][]domain.Button{
		{{Label: "✅ Confirm", Code: domain.ConfirmCode(code)}},
		{{Label: "❌ Cancel", Code: domain.CodeCancel}},
	}}
}

var labelIndex = func() map[string]string {
	idx := make(map[string]string)
	for _, l := range []string{
		LabelPower, LabelScreen, LabelScreenshot, LabelWindows,
		LabelProcesses, LabelSound, LabelSystemInfo, LabelHelp,
	} {
		idx[normalizeLabel(l)] = l
	}
	return idx
}()

// resolveLabel maps typed text to a main menu label. The emoji prefix and
// case are optional so "power" selects "💻 Power".
func resolveLabel(text string) (string, bool) {
	l, ok := labelIndex[normalizeLabel(text)]
	return l, ok
}

func normalizeLabel(s string) string {
	// Labels are ASCII after their emoji, and some emoji (ℹ) are letters.
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || (!unicode.IsLetter(r) && !unicode.IsDigit(r))
	})
	return strings.ToLower(strings.TrimSpace(s))
}

var powerIcons = map[domain.PowerState]string{
	domain.PowerShutdown:  "🔴",
	domain.PowerRestart:   "🔄",
	domain.PowerSleep:     "😴",
	domain.PowerHibernate: "🛌",
	domain.PowerLock:      "🔒",
}

func volumeIcon(op domain.VolumeOp) string {
	switch {
	case op.Kind == domain.VolumeMute:
		return "🔇"
	case op.Kind == domain.VolumeLevel && op.Level < 100:
		return "🔉"
	}
	return "🔊"
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes legacy Telegram Markdown metacharacters in provider
// text. The result must stay outside * entities: escapes inside one are not
// honoured and the message falls back to plain text.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// cut shortens s to at most n runes.
func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
