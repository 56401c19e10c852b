package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/config"
)

var knownTransports = []struct {
	ID   string
	Desc string
}{
	{"telegram", "Telegram bot (token from @BotFather)"},
	{"discord", "Discord bot"},
	{"slack", "Slack app in Socket Mode"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: transport → token → operator → confirmation timeout",
		Long:  "Guides you through the chat transport, its token, the operator's user ID and the confirmation timeout. Writes config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(os.Stdin, os.Stdout, resolveConfigPath())
		},
	}
}

func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.LoadRaw(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Transport
	fmt.Fprintln(out, "\n--- Step 1: Chat transport ---")
	for i, t := range knownTransports {
		fmt.Fprintf(out, "  %d) %s — %s\n", i+1, t.ID, t.Desc)
	}
	fmt.Fprintf(out, "Choose transport (1–%d)", len(knownTransports))
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(knownTransports) {
		idx = 1
	}
	transport := knownTransports[idx-1].ID

	// Step 2: Token and operator
	fmt.Fprintf(out, "\n--- Step 2: %s credentials ---\n", transport)
	var operator string
	switch transport {
	case "telegram":
		tg := &cfg.Channels.Telegram
		tg.Enabled = true
		fmt.Fprint(out, "Bot token, or an env reference")
		if tg.Token, err = prompt(orDefault(tg.Token, "${BOT_TOKEN}")); err != nil {
			return err
		}
		fmt.Fprint(out, "Your numeric Telegram user ID (empty = anyone may control this host)")
		if operator, err = prompt(tg.AuthorizedUser.String()); err != nil {
			return err
		}
		tg.AuthorizedUser = config.FlexString(operator)
	case "discord":
		dc := &cfg.Channels.Discord
		dc.Enabled = true
		fmt.Fprint(out, "Bot token, or an env reference")
		if dc.Token, err = prompt(orDefault(dc.Token, "${DISCORD_TOKEN}")); err != nil {
			return err
		}
		fmt.Fprint(out, "Your Discord user ID (empty = anyone may control this host)")
		if operator, err = prompt(dc.AuthorizedUser.String()); err != nil {
			return err
		}
		dc.AuthorizedUser = config.FlexString(operator)
	case "slack":
		sl := &cfg.Channels.Slack
		sl.Enabled = true
		fmt.Fprint(out, "Bot token (xoxb-...)")
		if sl.BotToken, err = prompt(orDefault(sl.BotToken, "${SLACK_BOT_TOKEN}")); err != nil {
			return err
		}
		fmt.Fprint(out, "App-level token (xapp-...)")
		if sl.AppToken, err = prompt(orDefault(sl.AppToken, "${SLACK_APP_TOKEN}")); err != nil {
			return err
		}
		fmt.Fprint(out, "Your Slack member ID (empty = anyone may control this host)")
		if operator, err = prompt(sl.AuthorizedUser.String()); err != nil {
			return err
		}
		sl.AuthorizedUser = config.FlexString(operator)
	}
	if operator == "" {
		fmt.Fprintln(out, "  WARNING: no operator set, the bot will run in OPEN mode.")
	}

	// Step 3: Confirmation timeout
	fmt.Fprintln(out, "\n--- Step 3: Confirmation ---")
	fmt.Fprint(out, "Seconds before an unconfirmed shutdown/restart request expires (0 = never)")
	timeout, err := prompt(strconv.Itoa(cfg.Confirm.TimeoutSeconds))
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(timeout); err == nil && n >= 0 {
		cfg.Confirm.TimeoutSeconds = n
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: run 'remotebot doctor', then 'remotebot run'.")
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
