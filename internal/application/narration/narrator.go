package narration

import (
	"context"
	"encoding/json"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/domain/ai"
	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
)

// Narrator turns verdicts into user-facing replies, through the language
// model when one is configured and through the fixed template otherwise.
type Narrator struct {
	model  ai.LanguageModel
	prompt func(lang string) string
	tr     chat.Translator
	logger *zap.Logger
}

type Options struct {
	// Model is optional.
	Model ai.LanguageModel
	// SystemPrompt builds the model's system prompt for a language.
	SystemPrompt func(lang string) string
	Translator   chat.Translator
	Logger       *zap.Logger
}

func New(opts Options) *Narrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SystemPrompt == nil {
		opts.SystemPrompt = func(string) string { return "" }
	}
	return &Narrator{
		model:  opts.Model,
		prompt: opts.SystemPrompt,
		tr:     opts.Translator,
		logger: opts.Logger.Named("narration"),
	}
}

// HasModel reports whether replies are narrated by a language model.
func (n *Narrator) HasModel() bool { return n.model != nil }

// payload is what the model sees. The file name is left out on purpose.
type payload struct {
	Kind       string            `json:"kind"`
	Severity   string            `json:"severity"`
	URL        string            `json:"url,omitempty"`
	FileType   string            `json:"file_type,omitempty"`
	FileSize   string            `json:"file_size,omitempty"`
	Malicious  int               `json:"malicious"`
	Suspicious int               `json:"suspicious"`
	Harmless   int               `json:"harmless"`
	Undetected int               `json:"undetected"`
	Total      int               `json:"total_engines"`
	Flagged    map[string]string `json:"flagged_by,omitempty"`
}

func newPayload(v domain.Verdict) payload {
	p := payload{
		Kind:       "file",
		Severity:   string(v.Severity()),
		URL:        v.URL,
		Malicious:  v.MaliciousCount,
		Suspicious: v.SuspiciousCount,
		Harmless:   v.HarmlessCount,
		Undetected: v.UndetectedCount,
		Total:      v.TotalEngines,
	}
	if v.URL != "" {
		p.Kind = "url"
	} else {
		p.FileType = string(v.SubjectType)
		p.FileSize = FormatSize(v.SubjectSize)
	}
	for _, name := range flaggedEngines(v) {
		if p.Flagged == nil {
			p.Flagged = map[string]string{}
		}
		p.Flagged[name] = v.Engines[name].Detail
	}
	return p
}

// Narrate explains v in lang. Model failures degrade to the plain-text
// template; a reply is always produced.
func (n *Narrator) Narrate(ctx context.Context, v domain.Verdict, lang string) chat.Reply {
	if n.model == nil {
		return n.Render(v, lang)
	}
	body, err := json.Marshal(newPayload(v))
	if err != nil {
		n.logger.Error("encode verdict payload", zap.Error(err))
		return n.RenderPlain(v, lang)
	}
	text, err := n.complete(ctx, lang, string(body))
	if err != nil {
		n.logger.Warn("falling back to template", zap.String("job_id", v.JobID), zap.Error(err))
		return n.RenderPlain(v, lang)
	}
	w := &writer{html: true}
	w.text(text)
	if v.ReportLink != "" {
		w.newline()
		w.newline()
		w.link(v.ReportLink, n.t(lang, KeyReportLink, nil))
	}
	return chat.Reply{Text: w.sb.String(), ParseMode: chat.ParseModeHTML}
}

// Converse answers free text that is neither a file nor a URL.
func (n *Narrator) Converse(ctx context.Context, text, lang string) chat.Reply {
	fallback := chat.Reply{Text: n.t(lang, KeyRequestFileOrURL, nil)}
	if n.model == nil || strings.TrimSpace(text) == "" {
		return fallback
	}
	out, err := n.complete(ctx, lang, text)
	if err != nil {
		n.logger.Warn("conversation reply failed", zap.Error(err))
		return fallback
	}
	return chat.Reply{Text: html.EscapeString(out), ParseMode: chat.ParseModeHTML}
}

func (n *Narrator) complete(ctx context.Context, lang, user string) (string, error) {
	out, err := n.model.Complete(ctx, n.prompt(lang), user)
	if err != nil {
		return "", &domain.NarrationError{Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &domain.NarrationError{Err: ai.ErrEmptyResponse}
	}
	return out, nil
}

// t looks up key and substitutes {name} placeholders. Values are inserted
// raw; escaping happens when the result is written.
func (n *Narrator) t(lang, key string, args map[string]string) string {
	s := key
	if n.tr != nil {
		s = n.tr.Lookup(key, lang)
	}
	return chat.Expand(s, args)
}
