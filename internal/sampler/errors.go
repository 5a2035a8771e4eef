package sampler

import "fmt"

// DecodeError reports a source that could not be fetched or decoded.
type DecodeError struct {
	Ref string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sampler: decode %s: %v", e.Ref, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
