package service

import (
	"encoding/json"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/countyops/countysync/internal/errors"
)

// projectResult applies a JMESPath expression to a job result payload. A bad
// expression is the caller's fault and maps to a validation error; the stored
// result is never modified.
func projectResult(result json.RawMessage, query string) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "stored result is not valid JSON")
	}

	projected, err := jmespath.Search(query, doc)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid result query %q", query)
	}

	out, err := json.Marshal(projected)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode projected result")
	}
	return out, nil
}
