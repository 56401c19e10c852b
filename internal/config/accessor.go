package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Paths address config fields by their json names, section by section:
// "confirm.timeoutSeconds", "channels.telegram.token".

// GetByPath returns the value at path. A section path returns the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses raw into the type of the field at path. Only existing
// leaf keys can be set, so a typo never silently lands in the saved file.
func SetByPath(cfg *Config, path, raw string) error {
	v, err := lookup(cfg, path)
	if err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)

	switch v.Kind() {
	case reflect.Struct:
		return fmt.Errorf("%s is a section, not a value", path)
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("%s expects a whole number, got %q", path, raw)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number, got %q", path, raw)
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("%s: unsupported field type %s", path, v.Type())
	}
	return nil
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	collect("", reflect.ValueOf(cfg).Elem(), out)
	return out
}

func collect(prefix string, v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := jsonName(t.Field(i))
		if name == "" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f := v.Field(i); f.Kind() == reflect.Struct {
			collect(name, f, out)
		} else {
			out[name] = f.Interface()
		}
	}
}

func lookup(cfg *Config, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, errors.New("empty path")
	}
	v := reflect.ValueOf(cfg).Elem()
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("key not found: %s", path)
		}
		next, ok := fieldByJSONName(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("key not found: %s", path)
		}
		v = next
	}
	return v, nil
}

func fieldByJSONName(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonName(t.Field(i)) == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Sanitize returns a copy of the config with every token masked. Config
// holds only values, so a plain copy never aliases the original.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	ch := &c.Channels
	ch.Telegram.Token = maskToken(ch.Telegram.Token)
	ch.Discord.Token = maskToken(ch.Discord.Token)
	ch.Slack.BotToken = maskToken(ch.Slack.BotToken)
	ch.Slack.AppToken = maskToken(ch.Slack.AppToken)
	return &c
}

// maskToken keeps the first and last four characters of long tokens.
func maskToken(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
