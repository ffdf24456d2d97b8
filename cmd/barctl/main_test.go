package main

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for s, want := range cases {
		got, err := parseLevel(s)
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", s, err)
		}
		if got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := parseLevel("loud"); err == nil {
		t.Error("parseLevel(\"loud\") should error")
	}
}

func TestParseComponentLevel(t *testing.T) {
	component, level, err := parseComponentLevel("barstorage=debug")
	if err != nil {
		t.Fatalf("parseComponentLevel: %v", err)
	}
	if component != "barstorage" || level != slog.LevelDebug {
		t.Errorf("parseComponentLevel = (%q, %v), want (barstorage, debug)", component, level)
	}

	if _, _, err := parseComponentLevel("no-equals-sign"); err == nil {
		t.Error("parseComponentLevel without '=' should error")
	}
}

func TestRootCmdWiresSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"run", "history", "index-server"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("root command missing subcommand %q", name)
		}
	}
}
