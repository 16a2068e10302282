package skeleton

import "hmibridge/internal/protocol"

var (
	ErrUnknownParent = protocol.NewCoded(protocol.CodeUnknownParent, "skeleton: parent bone not declared earlier")
	ErrMultipleRoots = protocol.NewCoded(protocol.CodeMultipleRoots, "skeleton: more than one root bone")
	ErrDuplicateBone = protocol.NewCoded(protocol.CodeDuplicateBone, "skeleton: duplicate bone name")
)
