package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// Display bounds for dynamic listings.
const (
	ProcessListLimit   = 15
	ProcessButtonLimit = 5
	WindowListLimit    = 15
	WindowButtonLimit  = 4

	processNameMax = 30
	windowTitleMax = 50
	buttonLabelMax = 15
)

// renderProcesses sorts by CPU descending, truncates to ProcessListLimit and
// synthesizes a kill_process_<pid> button for the first ProcessButtonLimit rows.
func renderProcesses(procs []domain.ProcessInfo) domain.Response {
	procs = append([]domain.ProcessInfo(nil), procs...)
	sort.SliceStable(procs, func(i, j int) bool { return procs[i].CPU > procs[j].CPU })
	if len(procs) > ProcessListLimit {
		procs = procs[:ProcessListLimit]
	}
	if len(procs) == 0 {
		return domain.Response{Text: "📋 No processes reported.", Menu: &domain.Menu{Rows: [][]domain.Button{backRow()}}}
	}

	var b strings.Builder
	b.WriteString("📋 *Running processes:*\n\n")
	for i, p := range procs {
		fmt.Fprintf(&b, "%d. %s (PID: %d)\n", i+1, escapeMarkdown(cut(p.Name, processNameMax)), p.PID)
		fmt.Fprintf(&b, "   CPU: %.1f%%, RAM: %.1f%%\n\n", p.CPU, p.Mem)
	}

	menu := &domain.Menu{}
	for i, p := range procs {
		if i == ProcessButtonLimit {
			break
		}
		menu.Rows = append(menu.Rows, []domain.Button{{
			Label: "❌ Kill " + cut(p.Name, buttonLabelMax),
			Code:  domain.KillProcessCode(p.PID),
		}})
	}
	menu.Rows = append(menu.Rows, backRow())

	return domain.Response{Text: b.String(), Menu: menu, Markdown: true}
}

// renderWindows lists up to WindowListLimit windows and gives the first
// WindowButtonLimit an activate and a screenshot button.
func renderWindows(wins []domain.WindowInfo) domain.Response {
	if len(wins) > WindowListLimit {
		wins = wins[:WindowListLimit]
	}
	if len(wins) == 0 {
		return domain.Response{Text: "🪟 No visible windows.", Menu: &domain.Menu{Rows: [][]domain.Button{backRow()}}}
	}

	var b strings.Builder
	b.WriteString("🪟 *Open windows:*\n\n")
	for i, w := range wins {
		fmt.Fprintf(&b, "%d. %s\n", i+1, escapeMarkdown(cut(w.Title, windowTitleMax)))
		fmt.Fprintf(&b, "   Process: %s (PID: %s)\n\n", escapeMarkdown(w.Process), w.PID)
	}

	menu := &domain.Menu{}
	for i, w := range wins {
		if i == WindowButtonLimit {
			break
		}
		menu.Rows = append(menu.Rows, []domain.Button{
			{Label: "🎯 " + cut(w.Title, buttonLabelMax), Code: domain.ActivateWindowCode(w.Handle)},
			{Label: "📸 Screenshot", Code: domain.ScreenshotWindowCode(w.Handle)},
		})
	}
	menu.Rows = append(menu.Rows, backRow())

	return domain.Response{Text: b.String(), Menu: menu, Markdown: true}
}

var infoOrder = []string{"Host", "User", "OS", "Uptime", "CPU", "RAM", "Disk"}

func renderSystemInfo(info map[string]string) domain.Response {
	keys := make([]string, 0, len(info))
	seen := make(map[string]bool, len(infoOrder))
	for _, k := range infoOrder {
		if _, ok := info[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range info {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var b strings.Builder
	b.WriteString("ℹ️ *System information:*\n\n")
	for _, k := range keys {
		label := escapeMarkdown(k) + ":"
		if seen[k] {
			label = "*" + label + "*"
		}
		fmt.Fprintf(&b, "%s %s\n", label, escapeMarkdown(info[k]))
	}
	return domain.Response{Text: b.String(), Markdown: true}
}
