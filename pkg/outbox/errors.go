package outbox

import "errors"

// ErrClaimConflict is returned by confirmation operations when the record is
// no longer held under the given claim token: another relay took over an
// expired lease and the current holder must discard its result.
var ErrClaimConflict = errors.New("outbox record claimed by another relay")

// ErrNotInTransaction is returned by the writer when Enqueue is called outside
// a database transaction. Staging outside the caller's transaction would break
// the atomicity the outbox exists for.
var ErrNotInTransaction = errors.New("outbox enqueue requires an active transaction")
