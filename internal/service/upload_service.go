package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-workshop-api/internal/observability"
)

var (
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
	// ErrUploadScanFailed indicates validation of the file failed.
	ErrUploadScanFailed = errors.New("file scanning failed")
	// ErrAttachmentStorageUnavailable indicates no storage backend is configured.
	ErrAttachmentStorageUnavailable = errors.New("attachment storage is not configured")
)

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// Attachment describes a stored submission file.
type Attachment struct {
	URL       string
	FileName  string
	MimeType  string
	Kind      string
	SizeBytes int64
	Checksum  string
}

// AttachmentUploader validates and stores submission attachments.
type AttachmentUploader interface {
	Upload(ctx context.Context, file *multipart.FileHeader) (Attachment, error)
}

type attachmentKind struct {
	name   string
	zipped bool
}

// Formats an author may attach to a submission, keyed by base MIME type.
// Images are accepted by prefix.
var attachmentKinds = map[string]attachmentKind{
	"application/pdf": {name: "document"},
	"application/zip": {name: "archive", zipped: true},
	"text/plain":      {name: "text"},
	"text/markdown":   {name: "text"},

	"application/vnd.oasis.opendocument.text":                                 {name: "document", zipped: true},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {name: "document", zipped: true},
}

type attachmentUploader struct {
	storage FileStorage
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
}

// NewAttachmentUploader constructs the uploader. A nil storage rejects every file.
func NewAttachmentUploader(storage FileStorage, maxSizeMB int, logger zerolog.Logger) AttachmentUploader {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &attachmentUploader{
		storage: storage,
		logger:  logger.With().Str("component", "attachment_uploader").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/service/attachments"),
	}
}

func (s *attachmentUploader) Upload(ctx context.Context, file *multipart.FileHeader) (Attachment, error) {
	ctx, span := s.tracer.Start(ctx, "attachment.store")
	defer span.End()

	if file == nil {
		return Attachment{}, errors.New("file is required")
	}
	if s.storage == nil {
		return Attachment{}, s.reject(span, "storage", ErrAttachmentStorageUnavailable)
	}
	if file.Size > s.maxSize {
		return Attachment{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	payload, err := s.read(file)
	if err != nil {
		if errors.Is(err, ErrUploadTooLarge) {
			return Attachment{}, s.reject(span, "size", err)
		}
		span.RecordError(err)
		return Attachment{}, err
	}

	mime, kind, ok := classifyAttachment(mimetype.Detect(payload))
	if !ok {
		return Attachment{}, s.reject(span, "type", ErrUploadTypeNotAllowed)
	}
	if kind.zipped {
		if err := s.checkArchive(payload); err != nil {
			return Attachment{}, s.reject(span, "scan", err)
		}
	}

	name := attachmentFileName(file.Filename, time.Now())
	url, err := s.storage.Upload(ctx, name, bytes.NewReader(payload))
	if err != nil {
		return Attachment{}, s.reject(span, "storage", err)
	}

	sum := sha256.Sum256(payload)
	span.SetAttributes(attribute.String("attachment.kind", kind.name), attribute.Int("attachment.bytes", len(payload)))
	return Attachment{
		URL:       url,
		FileName:  name,
		MimeType:  mime,
		Kind:      kind.name,
		SizeBytes: int64(len(payload)),
		Checksum:  hex.EncodeToString(sum[:]),
	}, nil
}

// read loads the file, trusting the stream length over the declared size.
func (s *attachmentUploader) read(file *multipart.FileHeader) ([]byte, error) {
	handle, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	payload, err := io.ReadAll(io.LimitReader(handle, s.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > s.maxSize {
		return nil, ErrUploadTooLarge
	}
	return payload, nil
}

func (s *attachmentUploader) reject(span trace.Span, reason string, err error) error {
	observability.AttachmentsRejected().WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	s.logger.Debug().Str("reason", reason).Err(err).Msg("attachment rejected")
	return err
}

// checkArchive bounds the expanded size of zip based formats.
func (s *attachmentUploader) checkArchive(payload []byte) error {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return ErrUploadScanFailed
	}
	limit := uint64(s.maxSize * 20)
	var expanded uint64
	for _, entry := range reader.File {
		expanded += entry.UncompressedSize64
		if expanded > limit {
			return fmt.Errorf("archive expands past %d bytes: %w", limit, ErrUploadScanFailed)
		}
	}
	return nil
}

// classifyAttachment walks the detected type and its parents until one is a
// known attachment format.
func classifyAttachment(detected *mimetype.MIME) (string, attachmentKind, bool) {
	for m := detected; m != nil; m = m.Parent() {
		base, _, _ := strings.Cut(m.String(), ";")
		base = strings.ToLower(strings.TrimSpace(base))
		if kind, ok := attachmentKinds[base]; ok {
			return base, kind, true
		}
		if strings.HasPrefix(base, "image/") {
			return base, attachmentKind{name: "image"}, true
		}
	}
	return "", attachmentKind{}, false
}

func attachmentFileName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, strings.ToLower(strings.TrimSuffix(original, filepath.Ext(original))))
	stem = strings.Trim(stem, "-")
	if stem == "" {
		stem = fmt.Sprintf("attachment-%d", now.Unix())
	}
	if ext == "" {
		ext = ".bin"
	}
	return stem + ext
}
