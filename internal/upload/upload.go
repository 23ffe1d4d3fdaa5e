package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"peopleapi/internal/model"
	"peopleapi/internal/storage"
)

// Reason classifies why an upload was refused.
type Reason string

const (
	UnsupportedMediaType Reason = "unsupported_media_type"
	PayloadTooLarge      Reason = "payload_too_large"
	StorageWriteFailed   Reason = "storage_write_failed"
)

const (
	MsgFileTooLarge = "File too large"
	MsgWriteFailed  = "Could not store the file"
)

// RejectionError is returned by Accept when nothing was written.
type RejectionError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// AsRejection extracts a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Policy configures one kind of upload. Avatar uploads are one policy; other
// upload kinds reuse the same Sink with their own Policy.
type Policy struct {
	Subfolder    string
	AllowedTypes []string
	MaxSize      int64
	// Message is returned to the caller when the media type is refused.
	Message string
}

// File is an inbound file part.
type File struct {
	Name      string
	MediaType string
	Size      int64
	Body      io.Reader
}

// Sink validates and writes files for a single Policy.
type Sink struct {
	store   storage.Storage
	policy  Policy
	allowed map[string]struct{}
	clock   *Clock
	metrics *Metrics
	log     *zap.Logger
}

// Option customizes a Sink.
type Option func(*Sink)

// WithClock replaces the instant source used for stored names.
func WithClock(c *Clock) Option {
	return func(s *Sink) { s.clock = c }
}

// WithMetrics records accept outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// WithLogger sets where cleanup failures are reported.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// NewSink builds a Sink writing to store under policy.Subfolder.
func NewSink(store storage.Storage, policy Policy, opts ...Option) *Sink {
	allowed := make(map[string]struct{}, len(policy.AllowedTypes))
	for _, t := range policy.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	s := &Sink{
		store:   store,
		policy:  policy,
		allowed: allowed,
		clock:   defaultClock,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the sink configuration.
func (s *Sink) Policy() Policy { return s.policy }

// Accept checks the declared media type and size, then writes the payload under a
// freshly generated stored name. On any rejection no file is left behind.
func (s *Sink) Accept(ctx context.Context, f File) (*model.UploadedAsset, error) {
	asset, err := s.accept(ctx, f)
	if s.metrics != nil {
		s.metrics.observe(s.policy.Subfolder, err)
	}
	return asset, err
}

func (s *Sink) accept(ctx context.Context, f File) (*model.UploadedAsset, error) {
	mediaType := strings.ToLower(strings.TrimSpace(f.MediaType))
	if _, ok := s.allowed[mediaType]; !ok {
		return nil, &RejectionError{Reason: UnsupportedMediaType, Message: s.policy.Message}
	}
	if f.Size > s.policy.MaxSize {
		return nil, &RejectionError{Reason: PayloadTooLarge, Message: MsgFileTooLarge}
	}
	if f.Body == nil {
		return nil, &RejectionError{Reason: StorageWriteFailed, Message: MsgWriteFailed, Err: errors.New("empty body")}
	}

	name := StoredName(f.Name, s.clock.Next())
	// Guard against a body longer than declared.
	body := io.LimitReader(f.Body, s.policy.MaxSize+1)
	info, err := s.store.Put(ctx, s.Key(name), body, storage.PutObjectOptions{
		Size:        f.Size,
		ContentType: mediaType,
		Metadata:    map[string]string{"original-filename": f.Name},
	})
	if err != nil {
		return nil, &RejectionError{Reason: StorageWriteFailed, Message: MsgWriteFailed, Err: err}
	}
	if info.Size > s.policy.MaxSize {
		if err := s.store.Delete(ctx, s.Key(name)); err != nil {
			s.log.Warn("asset_cleanup_failed",
				zap.String("status", "error"),
				zap.String("kind", "store_delete_failed"),
				zap.String("asset", name),
				zap.String("reason", "body_exceeds_limit"),
				zap.Error(err),
			)
		}
		return nil, &RejectionError{Reason: PayloadTooLarge, Message: MsgFileTooLarge}
	}

	return &model.UploadedAsset{
		OriginalName: f.Name,
		MediaType:    mediaType,
		Size:         info.Size,
		StoredName:   name,
	}, nil
}

// Key returns the storage key of a stored name under this policy.
func (s *Sink) Key(storedName string) string {
	return path.Join(s.policy.Subfolder, storedName)
}

// Discard deletes a previously accepted asset.
func (s *Sink) Discard(ctx context.Context, storedName string) error {
	return s.store.Delete(ctx, s.Key(storedName))
}

// Open streams a previously accepted asset.
func (s *Sink) Open(ctx context.Context, storedName string) (io.ReadCloser, storage.ObjectInfo, error) {
	return s.store.Get(ctx, s.Key(storedName))
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// StoredName derives the name an upload is written under: the original name
// lower-cased with its extension stripped and whitespace runs collapsed to a
// hyphen, then "-<instant>" and the original extension.
func StoredName(original string, instant int64) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stem = strings.ToLower(strings.TrimSpace(stem))
	stem = whitespaceRun.ReplaceAllString(stem, "-")
	return stem + "-" + strconv.FormatInt(instant, 10) + ext
}

// Clock hands out strictly increasing unix-millisecond instants, so two calls in
// the same process never produce the same value.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock reading from now.
func NewClock(now func() time.Time) *Clock {
	return &Clock{now: now}
}

var defaultClock = NewClock(time.Now)

// Next returns the current instant, or one past the previous value if the wall
// clock has not advanced.
func (c *Clock) Next() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
