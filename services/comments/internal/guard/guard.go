// Package guard validates public comment submissions and screens them for spam.
package guard

import (
	"encoding/json"
	"math"
	"strings"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/validator"
	"github.com/machinery-site/comments/services/comments/internal/domain"
)

// Submission is the raw JSON body of a public comment submission. Rating is
// left untyped so non-integer numbers and non-numbers can be reported with a
// field message instead of a decode error.
type Submission struct {
	ProductID    string `json:"productId"`
	Rating       any    `json:"rating"`
	Author       string `json:"author"`
	Email        string `json:"email"`
	Text         string `json:"text"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type commentFields struct {
	ProductID string `json:"productId" label:"Product" validate:"required,max=100"`
	Author    string `json:"author" label:"Name" validate:"min=2,max=120"`
	Email     string `json:"email" label:"Email" validate:"min=5,max=254,simple_email"`
	Text      string `json:"text" label:"Comment" validate:"min=20,max=2000"`
	Rating    int    `json:"rating" label:"Rating" validate:"gte=1,lte=5"`
}

const ratingMessage = "Rating must be a whole number between 1 and 5"

// Validate trims and checks a submission. It returns either the sanitized
// input or a single human-readable INVALID_INPUT error, never both.
func Validate(s Submission) (*domain.CommentInput, error) {
	rating, ok := parseRating(s.Rating)
	if !ok || rating < 1 || rating > 5 {
		return nil, apperrors.InvalidInput(ratingMessage)
	}

	fields := commentFields{
		ProductID: strings.TrimSpace(s.ProductID),
		Author:    strings.TrimSpace(s.Author),
		Email:     strings.ToLower(strings.TrimSpace(s.Email)),
		Text:      strings.TrimSpace(s.Text),
		Rating:    rating,
	}
	if err := validator.Validate(fields); err != nil {
		if ve, ok := err.(*validator.ValidationError); ok {
			return nil, apperrors.InvalidInput(ve.First())
		}
		return nil, apperrors.InvalidInput("invalid comment")
	}

	return &domain.CommentInput{
		ProductID: fields.ProductID,
		Rating:    fields.Rating,
		Author:    fields.Author,
		Email:     fields.Email,
		Text:      fields.Text,
	}, nil
}

func parseRating(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		return n, true
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
