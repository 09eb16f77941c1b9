package optype

// builtinHandlers wires every spec.md §6 opcode to its handler quadruple.
// Transform is identityTransform for the arithmetic-style operators
// (increment/bit/min/max/test): their effect on the target value commutes
// with everything else, so a concurrent op never needs its path rewritten
// on their account.
var builtinHandlers = map[Opcode]Handler{
	Add: {
		Like:      LikeAdd,
		Apply:     addApply,
		Invert:    addInvert,
		Transform: addTransform,
	},
	Remove: {
		Like:      LikeRemove,
		Apply:     removeApply,
		Invert:    removeInvert,
		Transform: removeTransform,
	},
	Replace: {
		Like:      LikeReplace,
		Apply:     replaceApply,
		Invert:    replaceInvert,
		Transform: replaceTransform,
	},
	Move: {
		Like:      LikeMove,
		Apply:     moveApply,
		Invert:    moveInvert,
		Transform: moveTransform,
	},
	Copy: {
		Like:      LikeCopy,
		Apply:     copyApply,
		Invert:    copyInvert,
		Transform: copyTransform,
	},
	Test: {
		Like:      LikeTest,
		Apply:     testApply,
		Invert:    testInvert,
		Transform: identityTransform,
	},
	Increment: {
		Like:      LikeReplace,
		Apply:     incrementApply,
		Invert:    incrementInvert,
		Transform: identityTransform,
		Compose:   incrementCompose,
	},
	Bit: {
		Like:      LikeReplace,
		Apply:     bitApply,
		Invert:    bitInvert,
		Transform: identityTransform,
		Compose:   bitCompose,
	},
	Min: {
		Like:      LikeReplace,
		Apply:     minApply,
		Invert:    guardedInvert,
		Transform: identityTransform,
		Compose:   minCompose,
	},
	Max: {
		Like:      LikeReplace,
		Apply:     maxApply,
		Invert:    guardedInvert,
		Transform: identityTransform,
		Compose:   maxCompose,
	},
	Text: {
		Like:      LikeReplace,
		Apply:     textApply,
		Invert:    textInvert,
		Transform: textTransform,
		Compose:   textCompose,
	},
}
