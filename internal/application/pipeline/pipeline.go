package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

// DefaultMaxFileSize is 5 MiB.
const DefaultMaxFileSize int64 = 5 << 20

// DefaultRecordTimeout bounds how long recorders may take for one outcome.
const DefaultRecordTimeout = 10 * time.Second

// Analyzer is the part of the analysis client the pipeline drives.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, staged domain.StagedArtifact, kind domain.MediaKind) (domain.Verdict, error)
	AnalyzeURL(ctx context.Context, url string) (domain.Verdict, error)
}

// Pipeline runs one analysis request from receipt to verdict. Staged copies
// never outlive Run. Pipeline is safe for concurrent use.
type Pipeline struct {
	analyzer  Analyzer
	source    domain.FileSource
	stager    domain.Stager
	maxSize   int64
	recorders []domain.Recorder
	recordTTL time.Duration
	recording sync.WaitGroup
	logger    *zap.Logger
}

type Options struct {
	Analyzer    Analyzer
	Source      domain.FileSource
	Stager      domain.Stager
	MaxFileSize int64
	// Recorders run in the background after Run returns, so a slow audit
	// or event sink never holds up the reply.
	Recorders     []domain.Recorder
	RecordTimeout time.Duration
	Logger        *zap.Logger
}

func New(opts Options) *Pipeline {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = DefaultRecordTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		analyzer:  opts.Analyzer,
		source:    opts.Source,
		stager:    opts.Stager,
		maxSize:   opts.MaxFileSize,
		recorders: opts.Recorders,
		recordTTL: opts.RecordTimeout,
		logger:    opts.Logger.Named("pipeline"),
	}
}

// MaxFileSize returns the configured ceiling in bytes.
func (p *Pipeline) MaxFileSize() int64 { return p.maxSize }

// EnforceSizeLimit rejects artifacts whose declared size exceeds the ceiling.
func (p *Pipeline) EnforceSizeLimit(a domain.Artifact) error {
	if a.DeclaredSize > p.maxSize {
		return &domain.OversizeError{Size: a.DeclaredSize, Limit: p.maxSize}
	}
	return nil
}

// Stage downloads the artifact into the scratch area. The caller owns the
// returned handle and must Release it.
func (p *Pipeline) Stage(ctx context.Context, req domain.Request) (domain.StagedArtifact, error) {
	rc, err := p.source.Download(ctx, req.Artifact)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer rc.Close()

	// one byte past the limit is enough to tell an undeclared oversize file
	staged, err := p.stager.Stage(ctx, StagedName(req), io.LimitReader(rc, p.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	if staged.Size() > p.maxSize {
		p.release(p.logger.With(zap.String("request_id", req.ID)), staged)
		return nil, &domain.OversizeError{Size: staged.Size(), Limit: p.maxSize}
	}
	return staged, nil
}

// Run executes req and returns exactly one of a verdict or an error.
// Errors are always *domain.PipelineError.
func (p *Pipeline) Run(ctx context.Context, req domain.Request) (v domain.Verdict, err error) {
	log := p.logger.With(
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("subject", req.Subject()),
	)
	stage := domain.StageReceived
	defer func() {
		if r := recover(); r != nil {
			v, err = domain.Verdict{}, p.fail(log, req, stage, fmt.Errorf("panic: %v", r))
		}
		p.record(ctx, log, req, v, err)
	}()

	switch req.Kind {
	case domain.RequestURL:
		stage = domain.StageSubmitted
		v, err = p.analyzer.AnalyzeURL(ctx, req.URL)
		if err != nil {
			return domain.Verdict{}, p.fail(log, req, domain.StageSubmitted, err)
		}
	case domain.RequestFile:
		if err := p.EnforceSizeLimit(req.Artifact); err != nil {
			return domain.Verdict{}, p.fail(log, req, domain.StageReceived, err)
		}
		staged, err := p.Stage(ctx, req)
		if err != nil {
			return domain.Verdict{}, p.fail(log, req, domain.StageReceived, err)
		}
		defer p.release(log, staged)
		stage = domain.StageStaged
		log.Debug("artifact staged", zap.String("location", staged.Location()), zap.Int64("size", staged.Size()))

		v, err = p.analyzer.AnalyzeFile(ctx, staged, req.Artifact.Kind)
		if err != nil {
			var pe *domain.ProviderError
			if errors.As(err, &pe) {
				stage = domain.StageSubmitted
			}
			return domain.Verdict{}, p.fail(log, req, stage, err)
		}
	default:
		return domain.Verdict{}, p.fail(log, req, domain.StageReceived, fmt.Errorf("unknown request kind %q", req.Kind))
	}

	log.Info("analysis completed",
		zap.String("severity", string(v.Severity())),
		zap.Int("malicious", v.MaliciousCount),
		zap.Int("suspicious", v.SuspiciousCount),
		zap.Int("engines", v.TotalEngines),
	)
	return v, nil
}

func (p *Pipeline) fail(log *zap.Logger, req domain.Request, stage domain.Stage, err error) error {
	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		fields = append(fields, zap.String("error_kind", string(pe.Kind)), zap.Int("code", pe.Code))
	}
	var oe *domain.OversizeError
	if errors.As(err, &oe) {
		log.Info("artifact rejected", fields...)
	} else {
		log.Error("analysis failed", fields...)
	}
	return &domain.PipelineError{Stage: stage, RequestID: req.ID, Err: err}
}

// release must never fail the request; cleanup errors are only logged.
func (p *Pipeline) release(log *zap.Logger, staged domain.StagedArtifact) {
	if err := staged.Release(); err != nil {
		log.Warn("staged artifact cleanup failed", zap.String("location", staged.Location()), zap.Error(err))
	}
}

// record hands the outcome to the recorders in the background. They share
// one RecordTimeout budget and outlive the request context.
func (p *Pipeline) record(ctx context.Context, log *zap.Logger, req domain.Request, v domain.Verdict, err error) {
	if len(p.recorders) == 0 {
		return
	}
	var vp *domain.Verdict
	if err == nil {
		vp = &v
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.recordTTL)
	p.recording.Add(1)
	go func() {
		defer p.recording.Done()
		defer cancel()
		for _, r := range p.recorders {
			if rerr := r.Record(ctx, req, vp, err); rerr != nil {
				log.Warn("recording outcome failed", zap.Error(rerr))
			}
		}
	}()
}

// Wait blocks until outcomes recorded so far have been handed to every
// recorder. Call it at shutdown before closing the sinks.
func (p *Pipeline) Wait() {
	p.recording.Wait()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StagedName derives a collision free file name from the platform's file id
// and the request id.
func StagedName(req domain.Request) string {
	base := req.Artifact.UniqueID
	if base == "" {
		base = req.Artifact.SourceID
	}
	base = unsafeName.ReplaceAllString(base, "_")
	if len(base) > 64 {
		base = base[:64]
	}
	id := req.ID
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.Trim(base+"-"+id, "-_.")
	if name == "" {
		name = "artifact"
	}
	return name + extension(req.Artifact)
}

func extension(a domain.Artifact) string {
	ext := unsafeName.ReplaceAllString(filepath.Ext(a.FileName), "")
	if ext != "" && ext != "." && len(ext) <= 10 {
		return ext
	}
	switch a.Kind {
	case domain.KindImage:
		return ".jpg"
	case domain.KindAnimation:
		return ".gif"
	default:
		return ""
	}
}
