package netgroup

import "errors"

var (
	// ErrProtocol is returned when a peer sends a frame out of sequence or
	// with a malformed body.
	ErrProtocol = errors.New("netgroup: protocol violation")

	// ErrChecksumMismatch is returned when a payload does not match its checksum.
	ErrChecksumMismatch = errors.New("netgroup: payload checksum mismatch")

	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("netgroup: frame too large")

	// ErrSessionMismatch is returned when a worker joins a hub of another run.
	ErrSessionMismatch = errors.New("netgroup: session mismatch")

	// ErrRejected is returned to a worker whose hello the hub refused.
	ErrRejected = errors.New("netgroup: join rejected")

	// ErrUnroutable is returned for transfers the star topology cannot carry:
	// scatter or gather rooted away from rank 0, and point-to-point transfers
	// between two non-zero ranks.
	ErrUnroutable = errors.New("netgroup: operation not routable through the hub")

	// ErrClosed is returned by operations on a closed group.
	ErrClosed = errors.New("netgroup: group closed")
)
