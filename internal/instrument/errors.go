package instrument

import "errors"

// ErrNoHandler is returned when a zero Handler is invoked.
var ErrNoHandler = errors.New("instrument: handler not set")
