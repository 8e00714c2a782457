package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/application"
	"github.com/bryanwahyu/vscanbot/internal/application/narration"
	"github.com/bryanwahyu/vscanbot/internal/application/pipeline"
	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
)

// Pipeline runs analysis requests.
type Pipeline interface {
	EnforceSizeLimit(a domain.Artifact) error
	Run(ctx context.Context, req domain.Request) (domain.Verdict, error)
}

// Narrator produces replies from verdicts and free text.
type Narrator interface {
	Narrate(ctx context.Context, v domain.Verdict, lang string) chat.Reply
	Converse(ctx context.Context, text, lang string) chat.Reply
}

// IPLookup returns the public address the bot is reachable from.
type IPLookup interface {
	PublicIP(ctx context.Context) (string, error)
}

// Limiter throttles analysis requests per conversation.
type Limiter interface {
	Allow(key string) bool
}

// Router classifies inbound updates and replies to every one of them.
// Updates of the same conversation are handled in arrival order; different
// conversations are handled concurrently.
type Router struct {
	transport chat.Transport
	tr        chat.Translator
	pipeline  Pipeline
	narrator  Narrator
	ip        IPLookup
	limiter   Limiter
	sessions  *sessionStore
	allowed   map[string]bool
	fallback  string
	botName   string
	maxSize   string
	newID     func() string
	logger    *zap.Logger
}

type Options struct {
	Transport  chat.Transport
	Translator chat.Translator
	Pipeline   Pipeline
	Narrator   Narrator
	// IPLookup and Limiter are optional.
	IPLookup IPLookup
	Limiter  Limiter

	AllowedLanguages []string
	DefaultLanguage  string
	BotName          string
	// MaxFileSize fills the {max_size} placeholder of every message.
	MaxFileSize int64
	SessionTTL  time.Duration
	Clock       application.Clock
	// NewID generates request ids; defaults to random UUIDs.
	NewID  func() string
	Logger *zap.Logger
}

func NewRouter(opts Options) *Router {
	if opts.Clock == nil {
		opts.Clock = application.SystemClock{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = pipeline.DefaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fallback := normalizeLanguage(opts.DefaultLanguage)
	if fallback == "" {
		fallback = "en"
	}
	allowed := map[string]bool{fallback: true}
	for _, l := range opts.AllowedLanguages {
		if l = normalizeLanguage(l); l != "" {
			allowed[l] = true
		}
	}
	return &Router{
		transport: opts.Transport,
		tr:        opts.Translator,
		pipeline:  opts.Pipeline,
		narrator:  opts.Narrator,
		ip:        opts.IPLookup,
		limiter:   opts.Limiter,
		sessions:  newSessionStore(opts.SessionTTL, opts.Clock.Now),
		allowed:   allowed,
		fallback:  fallback,
		botName:   opts.BotName,
		maxSize:   narration.FormatSize(opts.MaxFileSize),
		newID:     opts.NewID,
		logger:    opts.Logger.Named("dispatch"),
	}
}

// Run evicts idle sessions until ctx is done.
func (r *Router) Run(ctx context.Context) {
	every := r.sessions.ttl / 2
	if every > 5*time.Minute {
		every = 5 * time.Minute
	}
	r.sessions.janitor(ctx, every, func(n int) {
		r.logger.Debug("idle sessions evicted", zap.Int("count", n))
	})
}

// ActiveSessions returns the number of tracked conversations.
func (r *Router) ActiveSessions() int { return r.sessions.len() }

// Handle routes one update. The returned error is non-nil only when the
// reply itself could not be delivered.
func (r *Router) Handle(ctx context.Context, u chat.Update) error {
	chatID := u.ChatID()
	if chatID == 0 {
		r.logger.Debug("ignoring update without conversation", zap.Int64("update_id", u.UpdateID))
		return nil
	}
	s := r.sessions.acquire(chatID)
	defer r.sessions.release(s)

	var code string
	if sender := u.Sender(); sender != nil {
		code = sender.LanguageCode
	}
	lang := s.pin(r.resolveLanguage(code))
	if lang == "" {
		lang = r.fallback
	}
	log := r.logger.With(zap.Int64("chat_id", chatID), zap.Int64("update_id", u.UpdateID))

	if u.CallbackQuery != nil {
		return r.handleCallback(ctx, log, chatID, u.CallbackQuery, lang)
	}
	msg := u.Message
	text := strings.TrimSpace(msg.Text)

	if isCommand(text, "start") {
		return r.handleStart(ctx, chatID, msg.From, lang)
	}
	// attachments take precedence over URL-looking text or captions
	if a, ok := pipeline.ClassifyArtifact(msg); ok {
		req := domain.Request{ID: r.newID(), Kind: domain.RequestFile, Artifact: a}
		return r.handleAnalysis(ctx, log, s, req, lang)
	}
	if IsURL(text) {
		req := domain.Request{ID: r.newID(), Kind: domain.RequestURL, URL: text}
		return r.handleAnalysis(ctx, log, s, req, lang)
	}
	if text != "" && !strings.HasPrefix(text, "/") {
		return r.send(ctx, chatID, r.narrator.Converse(ctx, text, lang))
	}
	return r.send(ctx, chatID, chat.Reply{Text: r.t(lang, KeyRequestFileOrURL, nil)})
}

func (r *Router) handleStart(ctx context.Context, chatID int64, from *chat.User, lang string) error {
	welcome := r.t(lang, KeyWelcome, map[string]string{
		"user": from.DisplayName(),
		"bot":  r.botName,
	})
	text := welcome + "\n\n" + r.t(lang, KeyFunction, nil) + "\n\n" + r.t(lang, KeyRequestFileOrURL, nil)
	return r.send(ctx, chatID, chat.Reply{
		Text:     text,
		Keyboard: [][]chat.Button{{{Text: r.t(lang, KeyButtonCheckIP, nil), CallbackData: CallbackCheckIP}}},
	})
}

func (r *Router) handleCallback(ctx context.Context, log *zap.Logger, chatID int64, q *chat.CallbackQuery, lang string) error {
	// callbacks must be answered even when nothing is shown to the user
	if err := r.transport.AnswerCallback(ctx, q.ID); err != nil {
		log.Warn("answer callback failed", zap.String("op", "answerCallbackQuery"), zap.Error(err))
	}
	if q.Data != CallbackCheckIP {
		log.Debug("unknown callback", zap.String("data", q.Data))
		return nil
	}
	if r.ip == nil {
		return r.send(ctx, chatID, chat.Reply{Text: r.t(lang, KeyErrorIPRetrieval, nil)})
	}
	ip, err := r.ip.PublicIP(ctx)
	if err != nil {
		log.Error("public ip lookup failed", zap.String("op", "check_ip"), zap.Error(err))
		return r.send(ctx, chatID, chat.Reply{Text: r.t(lang, KeyErrorIPRetrieval, nil)})
	}
	return r.send(ctx, chatID, chat.Reply{Text: r.t(lang, KeyPublicIP, map[string]string{"ip": ip})})
}

func (r *Router) handleAnalysis(ctx context.Context, log *zap.Logger, s *Session, req domain.Request, lang string) error {
	log = log.With(zap.String("request_id", req.ID), zap.String("kind", string(req.Kind)))

	if r.limiter != nil && !r.limiter.Allow(strconv.FormatInt(s.chatID, 10)) {
		log.Info("analysis throttled")
		return r.send(ctx, s.chatID, chat.Reply{Text: r.t(lang, KeyErrorSlowDown, nil)})
	}
	if req.Kind == domain.RequestFile {
		if err := r.pipeline.EnforceSizeLimit(req.Artifact); err != nil {
			log.Info("file rejected", zap.Error(err))
			return r.send(ctx, s.chatID, chat.Reply{Text: r.t(lang, errorKey(req.Kind, err), nil)})
		}
	}

	status := KeyAnalyzingURL
	if req.Kind == domain.RequestFile {
		status = KeyAnalyzingFile
	}
	ref, err := r.transport.SendMessage(ctx, s.chatID, chat.Reply{Text: r.t(lang, status, nil)})
	if err != nil {
		log.Warn("status message not sent", zap.String("op", "sendMessage"), zap.Error(err))
	} else {
		s.pending = &ref
	}

	var reply chat.Reply
	v, err := r.pipeline.Run(ctx, req)
	if err != nil {
		reply = chat.Reply{Text: r.t(lang, errorKey(req.Kind, err), nil)}
	} else {
		reply = r.narrator.Narrate(ctx, v, lang)
	}
	return r.deliver(ctx, log, s, reply)
}

// deliver edits the pending status message into reply, or sends reply as a
// new message when there is nothing to edit or the edit failed.
func (r *Router) deliver(ctx context.Context, log *zap.Logger, s *Session, reply chat.Reply) error {
	pending := s.pending
	s.pending = nil
	if pending != nil {
		err := r.transport.EditMessage(ctx, *pending, reply)
		if err == nil {
			return nil
		}
		log.Warn("edit status message failed", zap.String("op", "editMessageText"), zap.Error(err))
	}
	return r.send(ctx, s.chatID, reply)
}

func (r *Router) send(ctx context.Context, chatID int64, reply chat.Reply) error {
	if _, err := r.transport.SendMessage(ctx, chatID, reply); err != nil {
		return fmt.Errorf("reply to chat %d: %w", chatID, err)
	}
	return nil
}

func (r *Router) t(lang, key string, args map[string]string) string {
	s := chat.Expand(r.tr.Lookup(key, lang), args)
	return strings.ReplaceAll(s, "{max_size}", r.maxSize)
}

// resolveLanguage maps a platform locale such as "es-MX" to an allowed
// two letter code. Unknown languages resolve to the fallback; an empty code
// resolves to "" so it does not pin the session.
func (r *Router) resolveLanguage(code string) string {
	l := normalizeLanguage(code)
	if l == "" {
		return ""
	}
	if r.allowed[l] {
		return l
	}
	return r.fallback
}

func normalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}

func errorKey(kind domain.RequestKind, err error) string {
	var oe *domain.OversizeError
	if errors.As(err, &oe) {
		return KeyErrorFileTooLarge
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) && pe.Kind == domain.RateLimited {
		return KeyErrorRateLimited
	}
	if kind == domain.RequestURL {
		return KeyErrorURLAnalysis
	}
	return KeyErrorFileAnalysis
}

// isCommand matches "/name" and "/name@botname" with optional arguments.
func isCommand(text, name string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	cmd, _, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == name
}
