package i18n

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/bryanwahyu/vscanbot/internal/application/dispatch"
	"github.com/bryanwahyu/vscanbot/internal/application/narration"
)

func TestBuiltinCatalogsComplete(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if diff := cmp.Diff([]string{"en", "es", "id"}, c.Languages()); diff != "" {
		t.Errorf("languages mismatch (-want +got):\n%s", diff)
	}
	for _, lang := range c.Languages() {
		if missing := c.Missing(lang); len(missing) > 0 {
			t.Errorf("%s misses %v", lang, missing)
		}
	}

	keys := []string{
		dispatch.KeyWelcome, dispatch.KeyFunction, dispatch.KeyRequestFileOrURL,
		dispatch.KeyButtonCheckIP, dispatch.KeyPublicIP, dispatch.KeyErrorIPRetrieval,
		dispatch.KeyAnalyzingFile, dispatch.KeyAnalyzingURL, dispatch.KeyErrorFileAnalysis,
		dispatch.KeyErrorURLAnalysis, dispatch.KeyErrorFileTooLarge, dispatch.KeyErrorRateLimited,
		dispatch.KeyErrorSlowDown,
		narration.KeyStatusSafe, narration.KeyStatusDangerous, narration.KeyStatusSuspicious,
		narration.KeySuspiciousWarning, narration.KeyFileType, narration.KeyFileSize,
		narration.KeyURL, narration.KeyEngineSummary, narration.KeyDetectionResults,
		narration.KeyNoThreats, narration.KeyReportLink,
	}
	for _, k := range keys {
		if got := c.Lookup(k, "en"); got == k {
			t.Errorf("key %s has no English text", k)
		}
	}
}

func TestSizeMessagesUsePlaceholder(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	for _, lang := range c.Languages() {
		for _, k := range []string{dispatch.KeyRequestFileOrURL, dispatch.KeyErrorFileTooLarge} {
			got := c.Lookup(k, lang)
			if !strings.Contains(got, "{max_size}") || strings.Contains(got, "5 MB") {
				t.Errorf("%s/%s = %q, want the {max_size} placeholder", lang, k, got)
			}
		}
	}
}

func TestLookupFallback(t *testing.T) {
	fsys := fstest.MapFS{
		"en.yaml": {Data: []byte("GREETING: \"Hello {user}\"\nBYE: Bye\n")},
		"fr.yaml": {Data: []byte("GREETING: \"Bonjour {user}\"\n")},
	}
	c, err := Load(fsys, "en")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		key, lang, want string
	}{
		{"GREETING", "fr", "Bonjour {user}"},
		{"BYE", "fr", "Bye"},
		{"GREETING", "de", "Hello {user}"},
		{"UNKNOWN", "fr", "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := c.Lookup(tt.key, tt.lang); got != tt.want {
			t.Errorf("Lookup(%q, %q) = %q, want %q", tt.key, tt.lang, got, tt.want)
		}
	}
}

func TestLoadRequiresFallback(t *testing.T) {
	fsys := fstest.MapFS{"fr.yaml": {Data: []byte("A: b\n")}}
	if _, err := Load(fsys, "en"); err == nil {
		t.Fatal("expected error without fallback catalog")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	fsys := fstest.MapFS{"en.yaml": {Data: []byte("A: [unclosed\n")}}
	if _, err := Load(fsys, "en"); err == nil {
		t.Fatal("expected parse error")
	}
}
