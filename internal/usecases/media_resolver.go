package usecases

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

// ResolvedMedia is a locally hosted copy of a message attachment
type ResolvedMedia struct {
	URL      string
	Mimetype string
}

// MediaResolver downloads attachments through the gateway and stores them
// in blob storage. Resolution is best effort: any failure yields no media.
type MediaResolver struct {
	gateway interfaces.Gateway
	storage interfaces.BlobStorage
	timeout time.Duration
	log     *slog.Logger
}

func NewMediaResolver(gateway interfaces.Gateway, storage interfaces.BlobStorage, timeout time.Duration, log *slog.Logger) *MediaResolver {
	if log == nil {
		log = slog.Default()
	}
	return &MediaResolver{
		gateway: gateway,
		storage: storage,
		timeout: timeout,
		log:     log.With(slog.String("service", "media")),
	}
}

// Needed reports whether a message of msgType whose media currently points
// at url still needs its attachment fetched into our blob storage.
func (r *MediaResolver) Needed(msgType entities.MessageType, url string) bool {
	return msgType.HasMedia() && !r.storage.IsLocal(url)
}

// Resolve fetches, decodes and stores the attachment of rawMessage.
func (r *MediaResolver) Resolve(ctx context.Context, conn *entities.Connection, rawMessage json.RawMessage, c Classification) (ResolvedMedia, bool) {
	if !c.Type.HasMedia() {
		return ResolvedMedia{}, false
	}
	if !r.Needed(c.Type, c.MediaURLHint) {
		return ResolvedMedia{URL: c.MediaURLHint, Mimetype: c.MimetypeHint}, true
	}

	media, err := r.fetch(ctx, conn, rawMessage, c)
	if err != nil {
		r.log.Warn("media not resolved",
			slog.String("instance", conn.InstanceName),
			slog.String("type", string(c.Type)),
			slog.Any("error", err))
		return ResolvedMedia{}, false
	}
	return media, true
}

func (r *MediaResolver) fetch(ctx context.Context, conn *entities.Connection, rawMessage json.RawMessage, c Classification) (ResolvedMedia, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	payload, err := r.gateway.FetchMediaBase64(ctx, conn, rawMessage)
	if err != nil {
		return ResolvedMedia{}, fmt.Errorf("fetch media: %w", err)
	}
	data, err := decodeMediaBase64(payload.Base64)
	if err != nil {
		return ResolvedMedia{}, err
	}

	mimetype := strings.TrimSpace(payload.Mimetype)
	if mimetype == "" {
		mimetype = c.MimetypeHint
	}
	name := uuid.NewString() + extensionFromMime(mimetype)
	if err := r.storage.Put(ctx, name, bytes.NewReader(data)); err != nil {
		return ResolvedMedia{}, fmt.Errorf("store media: %w", err)
	}
	return ResolvedMedia{URL: r.storage.URL(name), Mimetype: mimetype}, nil
}

var errEmptyMedia = errors.New("empty media payload")

// decodeMediaBase64 accepts plain base64 or a data URL
func decodeMediaBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	raw = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, raw)
	if raw == "" {
		return nil, errEmptyMedia
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decode media base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyMedia
	}
	return data, nil
}

func extensionFromMime(mime string) string {
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/aac":
		return ".m4a"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/3gpp":
		return ".3gp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
