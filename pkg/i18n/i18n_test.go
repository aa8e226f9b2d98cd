package i18n

import (
	"reflect"
	"strings"
	"testing"
)

func TestCatalogsAreComplete(t *testing.T) {
	for name, m := range map[string]Messages{"en": messagesEN, "id": messagesID} {
		v := reflect.ValueOf(m)
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).String() == "" {
				t.Fatalf("%s catalog missing %s", name, v.Type().Field(i).Name)
			}
		}
	}
}

func TestFormatVerbsMatchAcrossLanguages(t *testing.T) {
	en, id := reflect.ValueOf(messagesEN), reflect.ValueOf(messagesID)
	for i := 0; i < en.NumField(); i++ {
		a, b := en.Field(i).String(), id.Field(i).String()
		if strings.Count(a, "%") != strings.Count(b, "%") {
			t.Fatalf("%s: verb count differs: %q vs %q", en.Type().Field(i).Name, a, b)
		}
	}
}

func TestSetLanguageAndGet(t *testing.T) {
	t.Cleanup(func() { SetLanguage(LangEN) })

	SetLanguage(LangID)
	if GetLanguage() != LangID || M().OriginOther != "bot lain" {
		t.Fatalf("indonesian catalog not selected")
	}
	if got := Get("GateSession"); got != "di luar sesi trading" {
		t.Fatalf("Get = %q", got)
	}
	if got := Get("NoSuchKey"); got != "NoSuchKey" {
		t.Fatalf("unknown key should echo, got %q", got)
	}

	SetLanguage("fr")
	if GetLanguage() != LangEN {
		t.Fatalf("unknown language should fall back to en, got %s", GetLanguage())
	}
}
