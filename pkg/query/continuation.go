package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// continuation is the decoded form of the opaque paging token. Offset-based:
// the token carries how many matching rows were already consumed.
type continuation struct {
	Offset int `json:"o"`
}

func encodeContinuation(offset int) string {
	raw, _ := json.Marshal(continuation{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeContinuation(token string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("continuation token: %w", apperrors.ErrMalformedKey)
	}
	var c continuation
	if err := json.Unmarshal(raw, &c); err != nil || c.Offset < 0 {
		return 0, fmt.Errorf("continuation token: %w", apperrors.ErrMalformedKey)
	}
	return c.Offset, nil
}
