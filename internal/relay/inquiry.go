package relay

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// InquiryRecord is a contact/quote request captured by a website form.
//
// Either "message" or "projectDescription" carries the free text; the services
// form uses the latter. Likewise "serviceOfInterest" is accepted for "service".
// Normalize folds both aliases into the canonical fields.
type InquiryRecord struct {
	Name               string `json:"name" validate:"required,max=200"`
	Email              string `json:"email" validate:"required,basic_email,max=320"`
	Phone              string `json:"phone,omitempty" validate:"max=64"`
	Company            string `json:"company,omitempty" validate:"max=200"`
	Service            string `json:"service" validate:"required,max=200"`
	ServiceOfInterest  string `json:"serviceOfInterest,omitempty" validate:"-"`
	Message            string `json:"message" validate:"required,min=10"`
	ProjectDescription string `json:"projectDescription,omitempty" validate:"-"`
	Budget             string `json:"budget,omitempty" validate:"max=200"`
	Timeline           string `json:"timeline,omitempty" validate:"max=200"`
	Source             string `json:"source,omitempty" validate:"max=200"`
}

// Normalize trims every field and resolves the message alias.
func (r InquiryRecord) Normalize() InquiryRecord {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Company = strings.TrimSpace(r.Company)
	r.Service = strings.TrimSpace(r.Service)
	r.ServiceOfInterest = strings.TrimSpace(r.ServiceOfInterest)
	r.Message = strings.TrimSpace(r.Message)
	r.ProjectDescription = strings.TrimSpace(r.ProjectDescription)
	r.Budget = strings.TrimSpace(r.Budget)
	r.Timeline = strings.TrimSpace(r.Timeline)
	r.Source = strings.TrimSpace(r.Source)
	if r.Message == "" {
		r.Message = r.ProjectDescription
	}
	r.ProjectDescription = ""
	if r.Service == "" {
		r.Service = r.ServiceOfInterest
	}
	r.ServiceOfInterest = ""
	return r
}

// PayloadKind tags what a Payload carries.
type PayloadKind int

const (
	PayloadInquiry PayloadKind = iota + 1
	PayloadPlain
	PayloadRaw
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadInquiry:
		return "inquiry"
	case PayloadPlain:
		return "plain"
	case PayloadRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Payload is what callers submit. Build it with Structured, Plain or Raw.
type Payload struct {
	kind    PayloadKind
	inquiry InquiryRecord
	text    string
}

// Structured wraps a form inquiry. It is validated and laid out by the formatter.
func Structured(r InquiryRecord) Payload { return Payload{kind: PayloadInquiry, inquiry: r} }

// Plain wraps untrusted free text. It is escaped for the configured parse mode
// but otherwise sent as is.
func Plain(text string) Payload { return Payload{kind: PayloadPlain, text: text} }

// Raw wraps text that is already valid markup for the configured parse mode.
// It bypasses formatting entirely; only the size gate applies.
func Raw(markup string) Payload { return Payload{kind: PayloadRaw, text: markup} }

func (p Payload) Kind() PayloadKind { return p.kind }

// Inquiry returns the wrapped record and whether the payload is structured.
func (p Payload) Inquiry() (InquiryRecord, bool) { return p.inquiry, p.kind == PayloadInquiry }

var basicEmail = regexp.MustCompile(`^[^\s@]+@[^\s@]+$`)

// NewValidator returns a validator that knows the inquiry tags and reports
// fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("basic_email", func(fl validator.FieldLevel) bool {
		return basicEmail.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateInquiry normalizes r and checks it. Failures are InvalidInput errors
// listing the offending JSON fields.
func ValidateInquiry(v *validator.Validate, r InquiryRecord) (InquiryRecord, error) {
	r = r.Normalize()
	if err := v.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return r, &Error{Kind: KindInvalidInput, Err: err}
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return r, &Error{Kind: KindInvalidInput, Fields: fields, Err: err}
	}
	return r, nil
}
