package validation

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"peopleapi/internal/model"
	repoMocks "peopleapi/internal/repository/mocks"
)

func validFields() Fields {
	return Fields{
		Name:     "Jane Doe-Smith",
		Email:    "jane@example.com",
		Mobile:   "+8801712345678",
		Password: "Str0ng!Pass",
	}
}

func newValidator(t *testing.T, repo *repoMocks.MockPersonRepository) *Validator {
	t.Helper()
	v, err := New(repo)
	require.NoError(t, err)
	return v
}

func TestValidator_Validate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		fields     func() Fields
		setupMocks func(mRepo *repoMocks.MockPersonRepository)
		check      func(t *testing.T, out Outcome)
	}{
		{
			name:   "valid fields pass",
			fields: validFields,
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {
				mRepo.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, sql.ErrNoRows)
				mRepo.On("FindByMobile", mock.Anything, "+8801712345678").Return(nil, sql.ErrNoRows)
			},
			check: func(t *testing.T, out Outcome) {
				assert.True(t, out.OK())
			},
		},
		{
			name: "email is trimmed and lower-cased before lookup",
			fields: func() Fields {
				f := validFields()
				f.Email = "  Jane@Example.COM "
				f.Name = "  Jane  "
				return f
			},
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {
				mRepo.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, sql.ErrNoRows)
				mRepo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
			},
			check: func(t *testing.T, out Outcome) {
				assert.True(t, out.OK())
			},
		},
		{
			name: "every invalid field is reported without store lookups",
			fields: func() Fields {
				return Fields{Name: "R2-D2", Email: "not-an-email", Mobile: "01712345678", Password: "abc"}
			},
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {},
			check: func(t *testing.T, out Outcome) {
				assert.Len(t, out, 4)
				assert.Equal(t, []FieldError{{Kind: FieldInvalid, Msg: MsgNameAlpha}}, out["name"])
				assert.Equal(t, []FieldError{{Kind: FieldInvalid, Msg: MsgEmailInvalid}}, out["email"])
				assert.Equal(t, []FieldError{{Kind: FieldInvalid, Msg: MsgMobileInvalid}}, out["mobile"])
				assert.Equal(t, []FieldError{{Kind: FieldInvalid, Msg: MsgPasswordStrength}}, out["password"])
			},
		},
		{
			name: "blank name is required",
			fields: func() Fields {
				f := validFields()
				f.Name = "   "
				return f
			},
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {
				mRepo.On("FindByEmail", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
				mRepo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
			},
			check: func(t *testing.T, out Outcome) {
				assert.Equal(t, []FieldError{{Kind: FieldInvalid, Msg: MsgNameRequired}}, out["name"])
			},
		},
		{
			name:   "existing email is a duplicate",
			fields: validFields,
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {
				mRepo.On("FindByEmail", mock.Anything, "jane@example.com").Return(&model.Person{ID: "x"}, nil)
				mRepo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
			},
			check: func(t *testing.T, out Outcome) {
				assert.True(t, out.Has("email", DuplicateValue))
				assert.Equal(t, MsgEmailInUse, out["email"][0].Msg)
				assert.NotContains(t, out, "mobile")
			},
		},
		{
			name:   "existing mobile and email both reported",
			fields: validFields,
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {
				mRepo.On("FindByEmail", mock.Anything, mock.Anything).Return(&model.Person{ID: "x"}, nil)
				mRepo.On("FindByMobile", mock.Anything, mock.Anything).Return(&model.Person{ID: "y"}, nil)
			},
			check: func(t *testing.T, out Outcome) {
				assert.True(t, out.Has("email", DuplicateValue))
				assert.True(t, out.Has("mobile", DuplicateValue))
				assert.Equal(t, MsgMobileInUse, out["mobile"][0].Msg)
			},
		},
		{
			name:   "lookup failure becomes a field error",
			fields: validFields,
			setupMocks: func(mRepo *repoMocks.MockPersonRepository) {
				mRepo.On("FindByEmail", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
				mRepo.On("FindByMobile", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)
			},
			check: func(t *testing.T, out Outcome) {
				assert.Equal(t, []FieldError{{Kind: StoreLookupFailed, Msg: "connection refused"}}, out["email"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockPersonRepository)
			tt.setupMocks(mRepo)
			v := newValidator(t, mRepo)

			out := v.Validate(ctx, tt.fields())

			tt.check(t, out)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestBangladeshiMobile(t *testing.T) {
	tests := []struct {
		mobile string
		valid  bool
	}{
		{"+8801712345678", true},
		{"+8801312345678", true},
		{"+8801112345678", true},
		{"+8801912345678", true},
		{"+8801212345678", false},
		{"01712345678", false},
		{"8801712345678", false},
		{"+880 1712345678", false},
		{"+880-1712-345678", false},
		{"+88017123456789", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.mobile, func(t *testing.T) {
			assert.Equal(t, tt.valid, bdMobilePattern.MatchString(tt.mobile))
		})
	}
}

func TestStrongPassword(t *testing.T) {
	tests := []struct {
		password string
		strong   bool
	}{
		{"abc", false},
		{"Str0ng!Pass", true},
		{"Str0ngPass", false},
		{"str0ng!pass", false},
		{"STR0NG!PASS", false},
		{"Strong!Pass", false},
		{"S0!a", false},
		{"Aa1 aaaa", true},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			assert.Equal(t, tt.strong, StrongPassword(tt.password))
		})
	}
}

func TestOutcome(t *testing.T) {
	out := Outcome{}
	assert.True(t, out.OK())

	out.Add("email", DuplicateValue, MsgEmailInUse)
	out.Add("email", StoreLookupFailed, "boom")

	assert.False(t, out.OK())
	assert.Len(t, out["email"], 2)
	assert.True(t, out.Has("email", StoreLookupFailed))
	assert.False(t, out.Has("mobile", DuplicateValue))
}
