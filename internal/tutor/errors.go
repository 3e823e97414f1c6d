package tutor

import (
	"errors"
	"fmt"
	"time"

	"github.com/physicalai/tutor/internal/govern"
)

// Sentinel errors for backend outages. These are the only pipeline
// failures a client ever sees; the API layer maps them to 503 with a
// non-technical message.
var (
	ErrRetrievalUnavailable  = errors.New("retrieval backend unavailable")
	ErrGenerationUnavailable = errors.New("generation backend unavailable")
)

// RateLimitedError reports a quota denial with the time until the window
// resets. The API layer maps it to 429 with a Retry-After value.
type RateLimitedError struct {
	Kind       govern.Kind
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s quota exhausted, retry after %s", e.Kind, e.RetryAfter)
}

// AsRateLimited unwraps err into a RateLimitedError if it is one.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
