package guard

import (
	"strings"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/validator"
)

// ReplySubmission is the JSON body of a moderator reply. Author is optional
// and defaults to the moderator's display name.
type ReplySubmission struct {
	Author string `json:"author,omitempty" label:"Author" validate:"max=120"`
	Text   string `json:"text" label:"Reply" validate:"required,max=2000"`
}

// ValidateReply trims and checks a reply body.
func ValidateReply(s ReplySubmission) (ReplySubmission, error) {
	s.Author = strings.TrimSpace(s.Author)
	s.Text = strings.TrimSpace(s.Text)
	if err := validator.Validate(s); err != nil {
		if ve, ok := err.(*validator.ValidationError); ok {
			return ReplySubmission{}, apperrors.InvalidInput(ve.First())
		}
		return ReplySubmission{}, apperrors.InvalidInput("invalid reply")
	}
	return s, nil
}
