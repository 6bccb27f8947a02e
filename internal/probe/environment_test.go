// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package probe

import (
	"reflect"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		env      Environment
		tz, cc   string
		wantTZ   bool
		wantLang bool
	}{
		{"match", Environment{Timezone: "America/New_York", Languages: []string{"en-US"}}, "America/New_York", "US", false, false},
		{"tz differs", Environment{Timezone: "Europe/Berlin", Languages: []string{"en-US"}}, "America/New_York", "US", true, false},
		{"no provider tz", Environment{Timezone: "Europe/Berlin", Languages: []string{"en-US"}}, "", "US", false, false},
		{"lang differs", Environment{Timezone: "Asia/Tokyo", Languages: []string{"en-US", "en"}}, "Asia/Tokyo", "JP", false, true},
		{"second lang matches", Environment{Languages: []string{"fr-FR", "de-DE"}}, "", "de", false, false},
		{"case insensitive", Environment{Languages: []string{"PT-br"}}, "", "BR", false, false},
		{"no country code", Environment{Languages: []string{"en-US"}}, "", "", false, true},
		{"no languages", Environment{}, "", "US", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Evaluate(tt.env, tt.tz, tt.cc)
			if sig.TZMismatch != tt.wantTZ {
				t.Errorf("TZMismatch = %v, want %v", sig.TZMismatch, tt.wantTZ)
			}
			if sig.LangMismatch != tt.wantLang {
				t.Errorf("LangMismatch = %v, want %v", sig.LangMismatch, tt.wantLang)
			}
		})
	}
}

func TestEvaluate_Automation(t *testing.T) {
	if !Evaluate(Environment{Automation: true}, "", "US").Automation {
		t.Error("automation flag should pass through")
	}
}

func TestFromRequest(t *testing.T) {
	env := FromRequest(" Europe/Paris ", []string{"fr-FR", " ", "en"}, "de-DE", true)
	if env.Timezone != "Europe/Paris" {
		t.Errorf("timezone not trimmed: %q", env.Timezone)
	}
	if !reflect.DeepEqual(env.Languages, []string{"fr-FR", "en"}) {
		t.Errorf("unexpected languages %v", env.Languages)
	}
	if !env.Automation {
		t.Error("webdriver flag lost")
	}

	env = FromRequest("", nil, "de-DE,de;q=0.9,en;q=0.5", false)
	if len(env.Languages) != 3 || env.Languages[0] != "de-DE" {
		t.Errorf("Accept-Language not used as fallback: %v", env.Languages)
	}
}

func TestLocalLanguages(t *testing.T) {
	t.Setenv("LANGUAGE", "")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "pt_BR.UTF-8")

	got := localLanguages()
	if len(got) != 1 || got[0] != "pt-BR" {
		t.Errorf("expected [pt-BR], got %v", got)
	}

	t.Setenv("LANG", "C.UTF-8")
	if got := localLanguages(); len(got) != 0 {
		t.Errorf("C locale should yield no languages, got %v", got)
	}
}

func TestLocalTimezone_TZ(t *testing.T) {
	t.Setenv("TZ", ":Asia/Tokyo")
	if got := localTimezone(); got != "Asia/Tokyo" {
		t.Errorf("expected Asia/Tokyo, got %q", got)
	}
}
