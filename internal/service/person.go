package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"peopleapi/internal/model"
	"peopleapi/internal/notify"
	"peopleapi/internal/repository"
	"peopleapi/internal/storage"
	"peopleapi/internal/upload"
	"peopleapi/internal/validation"
)

var (
	ErrIDRequired = errors.New("id is required")
	ErrNotFound   = errors.New("person not found")
	ErrNoAvatar   = errors.New("person has no avatar")
	// ErrStoreWrite wraps persistence failures after validation succeeded.
	ErrStoreWrite = errors.New("store write failed")
)

const cleanupTimeout = 10 * time.Second

var tracer = otel.Tracer("peopleapi/internal/service")

// ValidationError carries the field errors of a rejected creation request.
type ValidationError struct {
	Outcome validation.Outcome
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Outcome))
	for f := range e.Outcome {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// PersonListResult is the service-level DTO for paginated people.
type PersonListResult struct {
	Items []model.Person `json:"data"`
	Total int            `json:"total"`
}

// CreateInput is a user creation request. Avatar is nil when no file part was sent.
type CreateInput struct {
	Fields validation.Fields
	Avatar *upload.File
}

// AssetSink stores and removes uploaded files for one upload policy.
type AssetSink interface {
	Accept(ctx context.Context, f upload.File) (*model.UploadedAsset, error)
	Discard(ctx context.Context, storedName string) error
	Open(ctx context.Context, storedName string) (io.ReadCloser, storage.ObjectInfo, error)
}

// FieldValidator validates creation form fields.
type FieldValidator interface {
	Validate(ctx context.Context, fields validation.Fields) validation.Outcome
}

// Notifier receives domain events. Implementations must not block.
type Notifier interface {
	Publish(ctx context.Context, e notify.Event)
}

// PersonService defines the use cases for handling people.
type PersonService interface {
	// Create uploads the avatar (if any), validates the fields and stores the person.
	// Errors are *upload.RejectionError, *ValidationError, or wrap ErrStoreWrite.
	Create(ctx context.Context, in CreateInput) (*model.Person, error)

	// List returns people using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*PersonListResult, error)

	// Get returns a single person by ID.
	Get(ctx context.Context, id string) (*model.Person, error)

	// Remove deletes a person and, best-effort, their avatar.
	Remove(ctx context.Context, id string) error

	// Avatar streams the avatar of a person.
	Avatar(ctx context.Context, id string) (io.ReadCloser, storage.ObjectInfo, error)
}

// Option customizes the person service.
type Option func(*personService)

// WithNotifier sets where domain events are published.
func WithNotifier(n Notifier) Option {
	return func(s *personService) { s.notifier = n }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *personService) { s.log = l }
}

// WithNow replaces the clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *personService) { s.now = now }
}

type personService struct {
	repo      repository.PersonRepository
	sink      AssetSink
	validator FieldValidator
	hasher    Hasher
	notifier  Notifier
	log       *zap.Logger
	now       func() time.Time
}

// NewPersonService constructs a new PersonService.
func NewPersonService(repo repository.PersonRepository, sink AssetSink, validator FieldValidator, hasher Hasher, opts ...Option) PersonService {
	s := &personService{
		repo:      repo,
		sink:      sink,
		validator: validator,
		hasher:    hasher,
		notifier:  notify.Nop{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("component", "person_service"))
	return s
}

// Create runs upload, then validation, then persistence, strictly in that order.
// A file written during upload is removed again when validation rejects the request.
func (s *personService) Create(ctx context.Context, in CreateInput) (*model.Person, error) {
	ctx, span := tracer.Start(ctx, "PersonService.Create")
	defer span.End()

	var asset *model.UploadedAsset
	if in.Avatar != nil {
		span.AddEvent("uploading")
		a, err := s.sink.Accept(ctx, *in.Avatar)
		if err != nil {
			span.SetStatus(codes.Error, "upload rejected")
			span.RecordError(err)
			return nil, err
		}
		asset = a
		span.SetAttributes(attribute.String("avatar.stored_name", asset.StoredName))
	}

	span.AddEvent("validating")
	if out := s.validator.Validate(ctx, in.Fields); !out.OK() {
		s.rollBack(ctx, span, asset)
		return nil, &ValidationError{Outcome: out}
	}

	fields := in.Fields.Normalize()
	hash, err := s.hasher.Hash(fields.Password)
	if err != nil {
		s.log.Error("person_hash_failed", zap.String("status", "error"), zap.Error(err))
		span.SetStatus(codes.Error, "hash failed")
		span.RecordError(err)
		if asset != nil {
			s.discard(ctx, asset.StoredName, "hash_failed")
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	p := &model.Person{
		ID:           uuid.NewString(),
		Name:         fields.Name,
		Email:        fields.Email,
		Mobile:       fields.Mobile,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if asset != nil {
		p.Avatar = asset.StoredName
	}

	stored, err := s.repo.Create(ctx, p)
	if err != nil {
		// The unique indexes catch duplicates that slipped past the pre-insert lookups.
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			out := validation.Outcome{}
			out.Add(dup.Field, validation.DuplicateValue, duplicateMessage(dup.Field))
			s.rollBack(ctx, span, asset)
			return nil, &ValidationError{Outcome: out}
		}
		logFields := []zap.Field{zap.String("status", "error"), zap.Error(err)}
		if asset != nil {
			logFields = append(logFields, zap.String("orphaned_asset", asset.StoredName))
		}
		s.log.Error("person_persist_failed", logFields...)
		span.SetStatus(codes.Error, "persist failed")
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	span.AddEvent("committed", trace.WithAttributes(attribute.String("person.id", stored.ID)))
	s.notifier.Publish(ctx, notify.Event{Type: notify.EventPersonCreated, Data: stored})
	return stored, nil
}

func duplicateMessage(field string) string {
	switch field {
	case "email":
		return validation.MsgEmailInUse
	case "mobile":
		return validation.MsgMobileInUse
	}
	return "Duplicate value"
}

func (s *personService) rollBack(ctx context.Context, span trace.Span, asset *model.UploadedAsset) {
	span.AddEvent("rolled_back")
	if asset != nil {
		s.discard(ctx, asset.StoredName, "validation_failed")
	}
}

// discard deletes an asset that no record references. It runs detached from the
// request's cancellation and never fails the caller; errors are logged as
// store_delete_failed.
func (s *personService) discard(ctx context.Context, storedName, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.sink.Discard(ctx, storedName); err != nil {
		s.log.Warn("asset_cleanup_failed",
			zap.String("status", "error"),
			zap.String("kind", "store_delete_failed"),
			zap.String("asset", storedName),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	s.log.Info("asset_cleanup",
		zap.String("status", "success"),
		zap.String("asset", storedName),
		zap.String("reason", reason),
	)
}

// List returns paginated people without exposing repository types.
func (s *personService) List(ctx context.Context, limit, offset int) (*PersonListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &PersonListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a person by ID.
func (s *personService) Get(ctx context.Context, id string) (*model.Person, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// Remove deletes the record first; the avatar file is cleaned up afterwards and
// a cleanup failure does not change the result.
func (s *personService) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	ctx, span := tracer.Start(ctx, "PersonService.Remove", trace.WithAttributes(attribute.String("person.id", id)))
	defer span.End()

	p, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		span.RecordError(err)
		return err
	}
	if p.Avatar != "" {
		s.discard(ctx, p.Avatar, "person_removed")
	}

	s.notifier.Publish(ctx, notify.Event{Type: notify.EventPersonRemoved, Data: map[string]string{"id": p.ID}})
	return nil
}

// Avatar opens the stored avatar of a person.
func (s *personService) Avatar(ctx context.Context, id string) (io.ReadCloser, storage.ObjectInfo, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	if p.Avatar == "" {
		return nil, storage.ObjectInfo{}, ErrNoAvatar
	}
	rc, info, err := s.sink.Open(ctx, p.Avatar)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, ErrNoAvatar
		}
		return nil, storage.ObjectInfo{}, err
	}
	return rc, info, nil
}
