package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"peopleapi/internal/model"
	"peopleapi/internal/notify"
	"peopleapi/internal/repository"
	repoMocks "peopleapi/internal/repository/mocks"
	"peopleapi/internal/storage"
	storeMocks "peopleapi/internal/storage/mocks"
	"peopleapi/internal/upload"
	"peopleapi/internal/validation"
)

var avatarPolicy = upload.Policy{
	Subfolder:    "avatars",
	AllowedTypes: []string{"image/jpeg", "image/jpg", "image/png"},
	MaxSize:      64,
	Message:      "Only .jpg, .jpeg or .png format allowed!",
}

type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "hashed:" + pw, nil }

type failingHasher struct{ err error }

func (h failingHasher) Hash(string) (string, error) { return "", h.err }

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

type fixture struct {
	svc      PersonService
	repo     *repoMocks.MockPersonRepository
	fs       afero.Fs
	notifier *recordingNotifier
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, store storage.Storage) *fixture {
	t.Helper()
	return newFixtureWithHasher(t, store, plainHasher{})
}

func newFixtureWithHasher(t *testing.T, store storage.Storage, h Hasher) *fixture {
	t.Helper()
	var fs afero.Fs
	if store == nil {
		fs = afero.NewMemMapFs()
		s, err := storage.NewLocalFs(fs, "/uploads")
		require.NoError(t, err)
		store = s
	}
	repo := new(repoMocks.MockPersonRepository)
	v, err := validation.New(repo)
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	n := &recordingNotifier{}
	clock := upload.NewClock(func() time.Time { return time.UnixMilli(1700000000000) })
	svc := NewPersonService(repo, upload.NewSink(store, avatarPolicy, upload.WithClock(clock)), v, h,
		WithNotifier(n),
		WithLogger(zap.New(core)),
		WithNow(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	return &fixture{svc: svc, repo: repo, fs: fs, notifier: n, logs: logs}
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	var names []string
	_ = afero.Walk(f.fs, "/uploads", func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			names = append(names, p)
		}
		return nil
	})
	return names
}

func (f *fixture) lookupsFree() {
	f.repo.On("FindByEmail", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
	f.repo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
}

func validInput() CreateInput {
	return CreateInput{Fields: validation.Fields{
		Name:     "Jane Doe",
		Email:    "Jane@Example.com",
		Mobile:   "+8801712345678",
		Password: "Str0ng!Pass",
	}}
}

func png(name string, body string) *upload.File {
	return &upload.File{Name: name, MediaType: "image/png", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestPersonService_Create_WithAvatar(t *testing.T) {
	f := newFixture(t, nil)
	f.lookupsFree()

	var saved *model.Person
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*model.Person")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.Person) }).
		Return(&model.Person{ID: "p1", Avatar: "my-photo-1700000000000.png"}, nil)

	in := validInput()
	in.Avatar = png("My Photo.png", "png-bytes")

	p, err := f.svc.Create(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	require.NotNil(t, saved)
	assert.Equal(t, "Jane Doe", saved.Name)
	assert.Equal(t, "jane@example.com", saved.Email)
	assert.Equal(t, "hashed:Str0ng!Pass", saved.PasswordHash)
	assert.Equal(t, model.RoleUser, saved.Role)
	assert.Equal(t, "my-photo-1700000000000.png", saved.Avatar)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), saved.CreatedAt)
	assert.Equal(t, []string{"/uploads/avatars/my-photo-1700000000000.png"}, f.files(t))

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.EventPersonCreated, f.notifier.events[0].Type)
	f.repo.AssertExpectations(t)
}

func TestPersonService_Create_WithoutAvatar(t *testing.T) {
	f := newFixture(t, nil)
	f.lookupsFree()

	var saved *model.Person
	f.repo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.Person) }).
		Return(&model.Person{ID: "p1"}, nil)

	_, err := f.svc.Create(context.Background(), validInput())

	require.NoError(t, err)
	assert.Empty(t, saved.Avatar)
	assert.Empty(t, f.files(t))
}

func TestPersonService_Create_InvalidFieldsRollBackAvatar(t *testing.T) {
	f := newFixture(t, nil)
	f.lookupsFree()

	in := validInput()
	in.Fields.Name = "R2-D2"
	in.Fields.Password = "weak"
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Outcome.Has("name", validation.FieldInvalid))
	assert.True(t, verr.Outcome.Has("password", validation.FieldInvalid))
	assert.Empty(t, f.files(t))
	assert.Empty(t, f.notifier.events)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.logs.FilterMessage("asset_cleanup").Len())
}

func TestPersonService_Create_UploadRejectedSkipsValidation(t *testing.T) {
	tests := []struct {
		name       string
		file       *upload.File
		wantReason upload.Reason
		wantMsg    string
	}{
		{
			name:       "unsupported media type",
			file:       &upload.File{Name: "doc.pdf", MediaType: "application/pdf", Size: 3, Body: strings.NewReader("pdf")},
			wantReason: upload.UnsupportedMediaType,
			wantMsg:    "Only .jpg, .jpeg or .png format allowed!",
		},
		{
			name:       "too large",
			file:       png("big.png", strings.Repeat("x", 65)),
			wantReason: upload.PayloadTooLarge,
			wantMsg:    "File too large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			in := validInput()
			in.Fields.Email = "not-an-email"
			in.Avatar = tt.file

			_, err := f.svc.Create(context.Background(), in)

			rej, ok := upload.AsRejection(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantReason, rej.Reason)
			assert.Equal(t, tt.wantMsg, rej.Message)
			assert.Empty(t, f.files(t))
			f.repo.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
			f.repo.AssertNotCalled(t, "FindByMobile", mock.Anything, mock.Anything)
			f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestPersonService_Create_DuplicateEmailRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.On("FindByEmail", mock.Anything, "jane@example.com").Return(&model.Person{ID: "other"}, nil)
	f.repo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)

	in := validInput()
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []validation.FieldError{{Kind: validation.DuplicateValue, Msg: validation.MsgEmailInUse}}, verr.Outcome["email"])
	assert.Empty(t, f.files(t))
}

func TestPersonService_Create_LookupFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.On("FindByEmail", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	f.repo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)

	in := validInput()
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Outcome.Has("email", validation.StoreLookupFailed))
	assert.Empty(t, f.files(t))
}

func TestPersonService_Create_InsertDuplicateRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.lookupsFree()
	f.repo.On("Create", mock.Anything, mock.Anything).
		Return(nil, &repository.DuplicateError{Field: "mobile", Err: errors.New("23505")})

	in := validInput()
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Outcome.Has("mobile", validation.DuplicateValue))
	assert.Equal(t, validation.MsgMobileInUse, verr.Outcome["mobile"][0].Msg)
	assert.Empty(t, f.files(t))
}

func TestPersonService_Create_PersistFailureKeepsAsset(t *testing.T) {
	f := newFixture(t, nil)
	f.lookupsFree()
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))

	in := validInput()
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	assert.ErrorIs(t, err, ErrStoreWrite)
	assert.Len(t, f.files(t), 1)
	logged := f.logs.FilterMessage("person_persist_failed").All()
	require.Len(t, logged, 1)
	assert.Equal(t, "me-1700000000000.png", logged[0].ContextMap()["orphaned_asset"])
	assert.Empty(t, f.notifier.events)
}

func TestPersonService_Create_LongPasswordWithBcrypt(t *testing.T) {
	f := newFixtureWithHasher(t, nil, BcryptHasher{Cost: bcrypt.MinCost})
	f.lookupsFree()

	var saved *model.Person
	f.repo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.Person) }).
		Return(&model.Person{ID: "p1", Avatar: "me-1700000000000.png"}, nil)

	in := validInput()
	in.Fields.Password = "Str0ng!Pass" + strings.Repeat("a", 69)
	in.Avatar = png("me.png", "png-bytes")
	require.Len(t, in.Fields.Password, 80)

	_, err := f.svc.Create(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(saved.PasswordHash), []byte(in.Fields.Password[:72])))
	assert.Equal(t, []string{"/uploads/avatars/me-1700000000000.png"}, f.files(t))
	require.Len(t, f.notifier.events, 1)
}

func TestPersonService_Create_HashFailureDiscardsAsset(t *testing.T) {
	f := newFixtureWithHasher(t, nil, failingHasher{err: errors.New("entropy exhausted")})
	f.lookupsFree()

	in := validInput()
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	require.Error(t, err)
	assert.Empty(t, f.files(t))
	assert.Equal(t, 1, f.logs.FilterMessage("person_hash_failed").Len())
	cleaned := f.logs.FilterMessage("asset_cleanup").All()
	require.Len(t, cleaned, 1)
	assert.Equal(t, "hash_failed", cleaned[0].ContextMap()["reason"])
	assert.Empty(t, f.notifier.events)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPersonService_Create_CleanupFailureDoesNotMaskValidation(t *testing.T) {
	mStore := new(storeMocks.MockStorage)
	mStore.On("Put", mock.Anything, "avatars/me-1700000000000.png", mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{Key: "avatars/me-1700000000000.png", Size: 9}, nil)
	mStore.On("Delete", mock.Anything, "avatars/me-1700000000000.png").Return(errors.New("permission denied"))

	f := newFixture(t, mStore)
	f.lookupsFree()

	in := validInput()
	in.Fields.Name = ""
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(context.Background(), in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Outcome.Has("name", validation.FieldInvalid))
	failed := f.logs.FilterMessage("asset_cleanup_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "store_delete_failed", failed[0].ContextMap()["kind"])
	mStore.AssertExpectations(t)
}

func TestPersonService_Create_CleanupSurvivesCanceledRequest(t *testing.T) {
	mStore := new(storeMocks.MockStorage)
	mStore.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{Size: 9}, nil)
	mStore.On("Delete", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
		Return(nil)

	f := newFixture(t, mStore)
	f.lookupsFree()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := validInput()
	in.Fields.Password = "weak"
	in.Avatar = png("me.png", "png-bytes")

	_, err := f.svc.Create(ctx, in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	mStore.AssertExpectations(t)
}

func TestPersonService_Get(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrIDRequired)

	f.repo.On("FindByID", mock.Anything, "missing").Return(nil, sql.ErrNoRows)
	_, err = f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	f.repo.On("FindByID", mock.Anything, "p1").Return(&model.Person{ID: "p1"}, nil)
	p, err := f.svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
}

func TestPersonService_List(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.On("List", mock.Anything, repository.PageQuery{Limit: 10, Offset: 0}).
		Return(&repository.PageResult[model.Person]{Items: []model.Person{{ID: "p1"}}, Total: 1}, nil)

	res, err := f.svc.List(context.Background(), 0, -5)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Len(t, res.Items, 1)
}

func TestPersonService_Remove(t *testing.T) {
	t.Run("deletes record then avatar", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, afero.WriteFile(f.fs, "/uploads/avatars/me-1.png", []byte("x"), 0o644))
		f.repo.On("Delete", mock.Anything, "p1").Return(&model.Person{ID: "p1", Avatar: "me-1.png"}, nil)

		err := f.svc.Remove(context.Background(), "p1")

		require.NoError(t, err)
		assert.Empty(t, f.files(t))
		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, notify.EventPersonRemoved, f.notifier.events[0].Type)
	})

	t.Run("missing avatar file is only logged", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.On("Delete", mock.Anything, "p1").Return(&model.Person{ID: "p1", Avatar: "gone.png"}, nil)

		err := f.svc.Remove(context.Background(), "p1")

		require.NoError(t, err)
		assert.Equal(t, 1, f.logs.FilterMessage("asset_cleanup_failed").Len())
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.On("Delete", mock.Anything, "nope").Return(nil, sql.ErrNoRows)

		err := f.svc.Remove(context.Background(), "nope")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, f.notifier.events)
	})

	t.Run("id required", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.ErrorIs(t, f.svc.Remove(context.Background(), ""), ErrIDRequired)
	})
}

func TestPersonService_Avatar(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, afero.WriteFile(f.fs, "/uploads/avatars/me-1.png", []byte("png-bytes"), 0o644))
	f.repo.On("FindByID", mock.Anything, "with").Return(&model.Person{ID: "with", Avatar: "me-1.png"}, nil)
	f.repo.On("FindByID", mock.Anything, "without").Return(&model.Person{ID: "without"}, nil)

	rc, info, err := f.svc.Avatar(context.Background(), "with")
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "png-bytes", string(b))
	assert.Equal(t, "image/png", info.ContentType)

	_, _, err = f.svc.Avatar(context.Background(), "without")
	assert.ErrorIs(t, err, ErrNoAvatar)
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("Str0ng!Pass")

	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!Pass", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Str0ng!Pass")))
}

func TestBcryptHasher_LongPassword(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	pw := strings.Repeat("Ab1!", 25)

	hash, err := h.Hash(pw)

	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw[:72])))
}
