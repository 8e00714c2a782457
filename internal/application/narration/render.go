package narration

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
)

// maxListedEngines bounds the detection list so replies stay under the
// platform's message size limit.
const maxListedEngines = 25

// Render formats v as Telegram HTML. It is a pure function of its inputs:
// every dynamic value is escaped and only <b>, <i>, <code> and <a href>
// tags are emitted.
func (n *Narrator) Render(v domain.Verdict, lang string) chat.Reply {
	return chat.Reply{Text: n.render(v, lang, true), ParseMode: chat.ParseModeHTML}
}

// RenderPlain formats v without markup.
func (n *Narrator) RenderPlain(v domain.Verdict, lang string) chat.Reply {
	return chat.Reply{Text: n.render(v, lang, false), ParseMode: chat.ParseModeNone}
}

type writer struct {
	sb   strings.Builder
	html bool
}

func (w *writer) text(s string) {
	if w.html {
		s = html.EscapeString(s)
	}
	w.sb.WriteString(s)
}

func (w *writer) tag(name, s string) {
	if !w.html {
		w.sb.WriteString(s)
		return
	}
	fmt.Fprintf(&w.sb, "<%s>%s</%s>", name, html.EscapeString(s), name)
}

func (w *writer) link(href, label string) {
	if !w.html {
		fmt.Fprintf(&w.sb, "%s: %s", label, href)
		return
	}
	fmt.Fprintf(&w.sb, `<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(label))
}

func (w *writer) newline() { w.sb.WriteByte('\n') }

func (n *Narrator) render(v domain.Verdict, lang string, markup bool) string {
	w := &writer{html: markup}
	sev := v.Severity()

	w.tag("b", n.t(lang, statusKeys[sev], nil))
	if sev == domain.SeveritySuspicious {
		w.text(n.t(lang, KeySuspiciousWarning, nil))
	}
	w.newline()
	w.newline()

	if v.URL != "" {
		w.text(n.t(lang, KeyURL, nil))
		w.text(" ")
		w.tag("code", v.URL)
		w.newline()
	} else {
		w.text(n.t(lang, KeyFileType, map[string]string{"file_type": string(v.SubjectType)}))
		w.newline()
		w.text(n.t(lang, KeyFileSize, map[string]string{"file_size": FormatSize(v.SubjectSize)}))
		w.newline()
	}
	w.text(n.t(lang, KeyEngineSummary, map[string]string{
		"malicious":  strconv.Itoa(v.MaliciousCount),
		"suspicious": strconv.Itoa(v.SuspiciousCount),
		"total":      strconv.Itoa(v.TotalEngines),
	}))
	w.newline()
	w.newline()

	w.tag("b", n.t(lang, KeyDetectionResults, nil))
	w.newline()
	flagged := flaggedEngines(v)
	if len(flagged) == 0 {
		w.tag("i", n.t(lang, KeyNoThreats, nil))
	}
	for i, name := range flagged {
		if i == maxListedEngines {
			w.newline()
			w.text(fmt.Sprintf("… +%d", len(flagged)-maxListedEngines))
			break
		}
		if i > 0 {
			w.newline()
		}
		detail := v.Engines[name].Detail
		if detail == "" {
			detail = v.Engines[name].Category
		}
		w.text("- " + name + ": ")
		w.tag("code", detail)
	}

	if v.ReportLink != "" {
		w.newline()
		w.newline()
		w.link(v.ReportLink, n.t(lang, KeyReportLink, nil))
	}
	return w.sb.String()
}

// flaggedEngines lists engines that categorised the subject as malicious,
// sorted by name.
func flaggedEngines(v domain.Verdict) []string {
	var names []string
	for name, r := range v.Engines {
		if r.Category == "malicious" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FormatSize renders a byte count using binary units.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
