package config

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

const maxFriendlyNameLen = 64

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would prevent startup are clamped to defaults;
// everything else is reported so the caller can decide whether to proceed.
func (c *Config) Validate() []error {
	var errs []error

	if c.FriendlyName == "" {
		c.FriendlyName = Default().FriendlyName
	}
	if utf8.RuneCountInString(c.FriendlyName) > maxFriendlyNameLen {
		errs = append(errs, fmt.Errorf("friendly_name exceeds %d characters", maxFriendlyNameLen))
	}
	for _, r := range c.FriendlyName {
		if unicode.IsControl(r) {
			errs = append(errs, fmt.Errorf("friendly_name contains control characters"))
			break
		}
	}

	for _, p := range []struct {
		name string
		val  *int
		def  int
	}{
		{"cast_port", &c.CastPort, Default().CastPort},
		{"display_port", &c.DisplayPort, Default().DisplayPort},
		{"dial_port", &c.DialPort, Default().DialPort},
	} {
		if *p.val == 0 {
			*p.val = p.def
			continue
		}
		if *p.val < 1 || *p.val > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is outside 1-65535", p.name, *p.val))
			*p.val = p.def
		}
	}

	if c.CastPort == c.DisplayPort || c.CastPort == c.DialPort || c.DisplayPort == c.DialPort {
		errs = append(errs, fmt.Errorf("cast_port, display_port and dial_port must be distinct"))
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format %q is not one of text/json", c.LogFormat))
		c.LogFormat = "text"
	}

	return errs
}
