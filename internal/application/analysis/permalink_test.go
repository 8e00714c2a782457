package analysis

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestReportLink(t *testing.T) {
	fileID := base64.StdEncoding.EncodeToString([]byte("abc123:extra"))
	cases := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{id: "u-deadbeef-1", want: "https://www.virustotal.com/gui/url/deadbeef"},
		{id: fileID, want: "https://www.virustotal.com/gui/file/abc123/analysis"},
		{id: strings.TrimRight(fileID, "="), want: "https://www.virustotal.com/gui/file/abc123/analysis"},
		{id: "u-", wantErr: true},
		{id: "u--1", wantErr: true},
		{id: "!!!not base64", wantErr: true},
		{id: base64.StdEncoding.EncodeToString([]byte("nocolon")), wantErr: true},
	}
	for _, tc := range cases {
		got, err := ReportLink("", tc.id)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ReportLink(%q) = %q, want error", tc.id, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ReportLink(%q): %v", tc.id, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ReportLink(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestReportLinkCustomBase(t *testing.T) {
	got, err := ReportLink("https://vt.example/gui/", "u-cafe-2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://vt.example/gui/url/cafe" {
		t.Errorf("got %q", got)
	}
}
