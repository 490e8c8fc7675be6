package codec

import "errors"

// ErrCorruptStream is returned by Decompress when the input ends before the
// declared original length is reached, or contains a malformed match token.
// Bytes decoded up to the fault are still returned alongside the error.
var ErrCorruptStream = errors.New("codec: corrupt compressed stream")
