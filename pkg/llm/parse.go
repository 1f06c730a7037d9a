package llm

import (
	"fmt"

	"github.com/xhad/claimcheck/internal/models"
)

// ResponseError reports a model answer that is not a JSON object. Raw holds
// the answer so it can be shown to the user.
type ResponseError struct {
	Raw string
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("failed to parse model response as JSON: %v", e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// ParseExtraction decodes a raw model answer.
func ParseExtraction(raw string) (*models.Extraction, error) {
	ext, err := models.DecodeExtraction([]byte(raw))
	if err != nil {
		return nil, &ResponseError{Raw: raw, Err: err}
	}
	return ext, nil
}
