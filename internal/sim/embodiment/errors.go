package embodiment

import (
	"errors"

	"hmibridge/internal/protocol"
)

var (
	// ErrInterrupted is returned for a single update whose enqueue was
	// cancelled. Other updates of the same delivery are unaffected.
	ErrInterrupted   = protocol.NewCoded(protocol.CodeInterrupted, "embodiment: update interrupted")
	ErrQueueClosed   = errors.New("embodiment: update queue closed")
	ErrNotConfigured = errors.New("embodiment: no agent spec applied")
)
