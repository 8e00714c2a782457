package pipeline

import (
	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
)

const (
	mimeMP4 = "video/mp4"
	mimeGIF = "image/gif"
)

// ClassifyArtifact picks the attachment to analyse, checking photo, video,
// audio and document in that order. Documents sent as video/mp4 are the
// platform's GIF conversions and are ignored.
func ClassifyArtifact(msg *chat.Message) (domain.Artifact, bool) {
	if msg == nil {
		return domain.Artifact{}, false
	}
	switch {
	case len(msg.Photo) > 0:
		// sizes are ordered smallest first
		p := msg.Photo[len(msg.Photo)-1]
		return domain.Artifact{
			SourceID:     p.FileID,
			UniqueID:     p.FileUniqueID,
			MimeType:     "image/jpeg",
			DeclaredSize: p.FileSize,
			Kind:         domain.KindImage,
		}, true
	case msg.Video != nil:
		return fromFile(msg.Video, domain.KindVideo), true
	case msg.Audio != nil:
		return fromFile(msg.Audio, domain.KindAudio), true
	case msg.Document != nil:
		switch msg.Document.MimeType {
		case mimeMP4:
			return domain.Artifact{}, false
		case mimeGIF:
			return fromFile(msg.Document, domain.KindAnimation), true
		}
		return fromFile(msg.Document, domain.KindDocument), true
	default:
		return domain.Artifact{}, false
	}
}

func fromFile(f *chat.File, kind domain.MediaKind) domain.Artifact {
	return domain.Artifact{
		SourceID:     f.FileID,
		UniqueID:     f.FileUniqueID,
		FileName:     f.FileName,
		MimeType:     f.MimeType,
		DeclaredSize: f.FileSize,
		Kind:         kind,
	}
}
