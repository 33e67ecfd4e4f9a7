package saal

type errGeneric uint8

// Generic errors common to the SSCOP packages.
const (
	_              errGeneric = iota // non-initialized err
	ErrInvariant                     // invariant violated
	ErrResource                      // resources exhausted
	ErrBadPDU                        // malformed PDU
	ErrShortBuffer                   // short buffer
	ErrClosed                        // connection closed
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrInvariant:
		return "invariant violated"
	case ErrResource:
		return "resources exhausted"
	case ErrBadPDU:
		return "malformed PDU"
	case ErrShortBuffer:
		return "short buffer"
	case ErrClosed:
		return "connection closed"
	}
	return "errGeneric(?)"
}
