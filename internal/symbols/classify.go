package symbols

// Class tags addresses that are not code locations.
type Class uint8

const (
	ClassNone Class = iota
	ClassHandler
	ClassMainStack
	ClassProcStack
	ClassUnknownInterrupt
)

const (
	excReturnMask = 0xF0000000
	excReturn     = 0xF0000000
	originMask    = 0x0F

	originHandler   = 0x1
	originMainStack = 0x9
	originProcStack = 0xD
)

func (c Class) String() string {
	switch c {
	case ClassHandler:
		return "INT_FROM_HANDLER"
	case ClassMainStack:
		return "INT_FROM_MAIN_STACK"
	case ClassProcStack:
		return "INT_FROM_PROC_STACK"
	case ClassUnknownInterrupt:
		return "INT_FROM_UNKNOWN"
	default:
		return ""
	}
}

// Classify reports whether addr is an EXC_RETURN value and, if so, which
// context the exception returns to. No symbol table is consulted.
func Classify(addr uint32) (Class, bool) {
	if addr&excReturnMask != excReturn {
		return ClassNone, false
	}
	switch addr & originMask {
	case originHandler:
		return ClassHandler, true
	case originMainStack:
		return ClassMainStack, true
	case originProcStack:
		return ClassProcStack, true
	default:
		return ClassUnknownInterrupt, true
	}
}
