package operator

import "errors"

// ErrUsage is returned for a line that does not match its verb's grammar:
// wrong argument count, unparseable number or unknown keyword.
var ErrUsage = errors.New("operator: usage error")

// unrecognizedMessage is written to diagnostics for an unknown verb.
const unrecognizedMessage = "Unrecognized command, skipping"
