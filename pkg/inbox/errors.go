package inbox

import "errors"

// ErrPermanent wraps handler failures that redelivery cannot fix, such as a
// payload the handler can never accept. The guard records them and skips
// further redeliveries.
var ErrPermanent = errors.New("permanent processing failure")

// ErrInFlight is returned when another consumer instance holds a live lease
// on the event. The caller should let the broker redeliver later.
var ErrInFlight = errors.New("event is being processed elsewhere")

// ErrAlreadyTracked is the store-level signal that a processing record for
// the idempotency key already exists.
var ErrAlreadyTracked = errors.New("processing record already exists")
