package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got: %v", errs)
	}
}

func TestValidateClampsZeroPorts(t *testing.T) {
	cfg := Default()
	cfg.CastPort = 0
	cfg.DisplayPort = 0

	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Fatalf("zero ports should clamp without error, got: %v", errs)
	}
	if cfg.CastPort != 8009 {
		t.Fatalf("cast_port not clamped to default: %d", cfg.CastPort)
	}
	if cfg.DisplayPort != 8010 {
		t.Fatalf("display_port not clamped to default: %d", cfg.DisplayPort)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.CastPort = 70000

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected an error for out-of-range cast_port")
	}
	if cfg.CastPort != 8009 {
		t.Fatalf("out-of-range port should clamp to default, got %d", cfg.CastPort)
	}
}

func TestValidateRejectsDuplicatePorts(t *testing.T) {
	cfg := Default()
	cfg.DisplayPort = cfg.CastPort

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected an error for duplicate ports")
	}
}

func TestValidateFriendlyName(t *testing.T) {
	cfg := Default()
	cfg.FriendlyName = ""
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("empty name should fall back to default, got: %v", errs)
	}
	if cfg.FriendlyName != "Fauxcast" {
		t.Fatalf("expected default friendly name, got %q", cfg.FriendlyName)
	}

	cfg = Default()
	cfg.FriendlyName = "Living\x00Room"
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("expected an error for control characters in friendly_name")
	}

	cfg = Default()
	cfg.FriendlyName = strings.Repeat("x", 65)
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("expected an error for over-long friendly_name")
	}
}

func TestValidateLogSettings(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"

	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("invalid log settings should reset to defaults, got %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}
