package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// CLI is the local console transport. Menus print as numbered buttons:
// typing a number presses one, anything else is a command, a menu label or
// a raw action code.
type CLI struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	photoDir string

	mu      sync.Mutex
	buttons []string // data of the buttons last shown
}

type CLIConfig struct {
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	PhotoDir string // where screenshots are saved; defaults to the temp dir
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.PhotoDir == "" {
		cfg.PhotoDir = os.TempDir()
	}
	return &CLI{
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		photoDir: cfg.PhotoDir,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive loop and blocks until EOF, /quit or ctx is done.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(c.Name(), c.render)

	_, _ = fmt.Fprintln(c.out, "Remote control console. Type /start for the menu, /quit to exit.")
	_, _ = fmt.Fprint(c.out, "> ")

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err // nil on EOF
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}
			in, ok := c.intentFor(line)
			if !ok {
				_, _ = fmt.Fprint(c.out, "> ")
				continue
			}
			bus.Publish(in)
		}
	}
}

func (c *CLI) Stop() error { return nil }

func (c *CLI) intentFor(line string) (domain.Intent, bool) {
	if line == "" {
		return domain.Intent{}, false
	}
	if n, err := strconv.Atoi(line); err == nil {
		c.mu.Lock()
		var data string
		if n >= 1 && n <= len(c.buttons) {
			data = c.buttons[n-1]
		}
		c.mu.Unlock()
		if data != "" {
			return buttonIntent(c.Name(), "local", ConsoleCaller, "", data), true
		}
	}
	if _, err := domain.ParseAction(line); err == nil {
		return domain.NewActionIntent(c.Name(), "local", ConsoleCaller, "", line), true
	}
	return textIntent(c.Name(), "local", ConsoleCaller, line)
}

func (c *CLI) render(msg domain.OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := msg.Photo; p != nil {
		name := fmt.Sprintf("screenshot-%s.png", time.Now().Format("20060102-150405.000"))
		path := filepath.Join(c.photoDir, name)
		if err := os.WriteFile(path, p.Data, 0o600); err != nil {
			c.logger.Error("saving screenshot failed", "path", path, "err", err)
			_, _ = fmt.Fprintf(c.out, "%s (could not save: %v)\n", p.Caption, err)
		} else {
			_, _ = fmt.Fprintf(c.out, "%s\nsaved to %s\n", p.Caption, path)
		}
	}

	r := msg.Response
	if r == nil {
		return
	}
	_, _ = fmt.Fprintln(c.out, "---")
	_, _ = fmt.Fprintln(c.out, plainText(r))

	if r.Menu != nil {
		c.buttons = c.buttons[:0]
		for _, row := range r.Menu.Rows {
			var cells []string
			for _, b := range row {
				c.buttons = append(c.buttons, buttonData(r, b))
				cells = append(cells, fmt.Sprintf("[%d] %s", len(c.buttons), b.Label))
			}
			_, _ = fmt.Fprintln(c.out, strings.Join(cells, "   "))
		}
	}
	_, _ = fmt.Fprint(c.out, "> ")
}

var markdownStripper = strings.NewReplacer(`\_`, "_", `\*`, "*", "\\`", "`", `\[`, "[", "*", "")

// plainText drops Markdown emphasis for terminal output.
func plainText(r *domain.Response) string {
	if !r.Markdown {
		return r.Text
	}
	return markdownStripper.Replace(r.Text)
}
