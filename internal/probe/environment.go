// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package probe

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
	"golang.org/x/text/language"
)

type Environment struct {
	Timezone   string   `json:"timezone"`
	Languages  []string `json:"languages"`
	Automation bool     `json:"automation"`
}

type EnvironmentSignals struct {
	TZMismatch   bool
	LangMismatch bool
	Automation   bool
}

// Evaluate compares the requester's locale with the provider's view of the
// address. An empty countryCode always counts as a language mismatch.
func Evaluate(env Environment, ipTimezone, countryCode string) EnvironmentSignals {
	sig := EnvironmentSignals{Automation: env.Automation}
	sig.TZMismatch = ipTimezone != "" && env.Timezone != ipTimezone

	cc := strings.ToLower(strings.TrimSpace(countryCode))
	sig.LangMismatch = true
	if cc != "" {
		for _, lang := range env.Languages {
			if strings.Contains(strings.ToLower(lang), cc) {
				sig.LangMismatch = false
				break
			}
		}
	}
	return sig
}

// FromRequest builds the environment a browser reported. Accept-Language is
// only consulted when no explicit language list was sent.
func FromRequest(timezone string, languages []string, acceptLanguage string, webdriver bool) Environment {
	env := Environment{
		Timezone:   strings.TrimSpace(timezone),
		Automation: webdriver,
	}
	for _, l := range languages {
		if l = strings.TrimSpace(l); l != "" {
			env.Languages = append(env.Languages, l)
		}
	}
	if len(env.Languages) == 0 && acceptLanguage != "" {
		env.Languages = ParseAcceptLanguage(acceptLanguage)
	}
	return env
}

func ParseAcceptLanguage(header string) []string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.String())
	}
	return out
}

// Local describes the environment of this process, for scans where the
// process itself is the requester.
func Local() Environment {
	return Environment{
		Timezone:   localTimezone(),
		Languages:  localLanguages(),
		Automation: !term.IsTerminal(int(os.Stdin.Fd())),
	}
}

func localTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return strings.TrimPrefix(tz, ":")
	}
	if target, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	if b, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(b)); tz != "" {
			return tz
		}
	}
	if name := time.Local.String(); name != "Local" {
		return name
	}
	return ""
}

func localLanguages() []string {
	var raw []string
	if v := os.Getenv("LANGUAGE"); v != "" {
		raw = append(raw, strings.Split(v, ":")...)
	}
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			raw = append(raw, v)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, r := range raw {
		r, _, _ = strings.Cut(r, ".")
		r, _, _ = strings.Cut(r, "@")
		if r == "" || r == "C" || r == "POSIX" {
			continue
		}
		tag, err := language.Parse(strings.ReplaceAll(r, "_", "-"))
		if err != nil {
			continue
		}
		s := tag.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
