package validation

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"peopleapi/internal/model"
)

// Kind classifies a field error.
type Kind string

const (
	FieldInvalid      Kind = "field_invalid"
	DuplicateValue    Kind = "duplicate_value"
	StoreLookupFailed Kind = "store_lookup_failed"
)

// FieldError is one message attached to a form field.
type FieldError struct {
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

// Outcome maps a field name to its errors. An empty Outcome means the fields were accepted.
type Outcome map[string][]FieldError

// Add appends an error for field.
func (o Outcome) Add(field string, kind Kind, msg string) {
	o[field] = append(o[field], FieldError{Kind: kind, Msg: msg})
}

// OK reports whether no field failed.
func (o Outcome) OK() bool { return len(o) == 0 }

// Has reports whether field has an error of the given kind.
func (o Outcome) Has(field string, kind Kind) bool {
	for _, fe := range o[field] {
		if fe.Kind == kind {
			return true
		}
	}
	return false
}

// Fields are the user-creation form fields.
type Fields struct {
	Name     string `form:"name" validate:"required,personname"`
	Email    string `form:"email" validate:"email"`
	Mobile   string `form:"mobile" validate:"bdmobile"`
	Password string `form:"password" validate:"strongpassword"`
}

// Normalize trims name and email and lower-cases the email, as they are stored.
func (f Fields) Normalize() Fields {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	return f
}

// PeopleLookup is the part of the people store the validator needs.
// A lookup that finds nothing returns sql.ErrNoRows.
type PeopleLookup interface {
	FindByEmail(ctx context.Context, email string) (*model.Person, error)
	FindByMobile(ctx context.Context, mobile string) (*model.Person, error)
}

const (
	MsgNameRequired     = "Name is required"
	MsgNameAlpha        = "Name must not contain anything other than alphabet"
	MsgEmailInvalid     = "Invalid email address"
	MsgEmailInUse       = "Email already in use"
	MsgMobileInvalid    = "Mobile number must be a valid Bangladeshi mobile number"
	MsgMobileInUse      = "Mobile number already in use"
	MsgPasswordStrength = "Password must be at least 8 characters long & should contain at least 1 lowercase, 1 uppercase, 1 number & 1 symbol"
)

var messages = map[string]string{
	"name.required":           MsgNameRequired,
	"name.personname":         MsgNameAlpha,
	"email.email":             MsgEmailInvalid,
	"mobile.bdmobile":         MsgMobileInvalid,
	"password.strongpassword": MsgPasswordStrength,
}

var (
	personNamePattern = regexp.MustCompile(`^[A-Za-z \-]+$`)
	// Strict mode: international prefix required, no separators.
	bdMobilePattern = regexp.MustCompile(`^\+8801[13-9][0-9]{8}$`)
	passwordSymbols = "-#!$@£%^&*()_+|~=`{}[]:\";'<>?,./\\ "
)

// Validator checks user-creation fields, including uniqueness against the store.
type Validator struct {
	v      *validator.Validate
	lookup PeopleLookup
}

// New builds a Validator backed by lookup.
func New(lookup PeopleLookup) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("form")
	})
	custom := map[string]validator.Func{
		"personname":     func(fl validator.FieldLevel) bool { return personNamePattern.MatchString(fl.Field().String()) },
		"bdmobile":       func(fl validator.FieldLevel) bool { return bdMobilePattern.MatchString(fl.Field().String()) },
		"strongpassword": func(fl validator.FieldLevel) bool { return StrongPassword(fl.Field().String()) },
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, err
		}
	}
	return &Validator{v: v, lookup: lookup}, nil
}

// Validate evaluates every rule and accumulates the failures. Fields are
// normalized before checking. Store lookups only run for well-formed values,
// concurrently with each other; a failing lookup is reported as a field error.
func (val *Validator) Validate(ctx context.Context, fields Fields) Outcome {
	fields = fields.Normalize()
	out := Outcome{}

	if err := val.v.StructCtx(ctx, fields); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			out.Add("common", FieldInvalid, err.Error())
			return out
		}
		for _, fe := range verrs {
			msg, ok := messages[fe.Field()+"."+fe.Tag()]
			if !ok {
				msg = "Invalid " + fe.Field()
			}
			out.Add(fe.Field(), FieldInvalid, msg)
		}
	}

	var emailErr, mobileErr *FieldError
	var g errgroup.Group
	if _, bad := out["email"]; !bad {
		g.Go(func() error {
			p, err := val.lookup.FindByEmail(ctx, fields.Email)
			emailErr = uniqueness(p, err, MsgEmailInUse)
			return nil
		})
	}
	if _, bad := out["mobile"]; !bad {
		g.Go(func() error {
			p, err := val.lookup.FindByMobile(ctx, fields.Mobile)
			mobileErr = uniqueness(p, err, MsgMobileInUse)
			return nil
		})
	}
	_ = g.Wait()

	if emailErr != nil {
		out.Add("email", emailErr.Kind, emailErr.Msg)
	}
	if mobileErr != nil {
		out.Add("mobile", mobileErr.Kind, mobileErr.Msg)
	}
	return out
}

func uniqueness(p *model.Person, err error, inUse string) *FieldError {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return &FieldError{Kind: StoreLookupFailed, Msg: err.Error()}
	case p != nil:
		return &FieldError{Kind: DuplicateValue, Msg: inUse}
	}
	return nil
}

// StrongPassword reports whether pw has at least 8 characters with one
// lowercase letter, one uppercase letter, one digit and one symbol.
func StrongPassword(pw string) bool {
	var lower, upper, digit, symbol bool
	n := 0
	for _, r := range pw {
		n++
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return n >= 8 && lower && upper && digit && symbol
}
