package wasm

// Binary header.
const (
	// Magic is "\0asm" read as a little-endian uint32.
	Magic uint32 = 0x6D736100

	// Version is the only supported binary format version.
	Version uint32 = 0x01
)

// Section IDs.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import and export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// ValType is a value type byte.
type ValType byte

// Value types used by the rewrite pass and tests. Reference types with a heap
// type immediate (0x63, 0x64) are carried as raw bytes.
const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F
	ValRefNull ValType = 0x63
	ValRef     ValType = 0x64
)

// Type section forms.
const (
	FuncTypeByte   byte = 0x60
	StructTypeByte byte = 0x5F
	ArrayTypeByte  byte = 0x5E
	SubTypeByte    byte = 0x50
	SubFinalByte   byte = 0x4F
	RecTypeByte    byte = 0x4E
)

// BlockTypeVoid is the empty block type (0x40 as s33).
const BlockTypeVoid int64 = -64

// Control and variable opcodes.
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06
	OpCatch              byte = 0x07
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18
	OpCatchAll           byte = 0x19
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpTryTable           byte = 0x1F
	OpLocalGet           byte = 0x20
	OpLocalSet           byte = 0x21
	OpLocalTee           byte = 0x22
	OpGlobalGet          byte = 0x23
	OpGlobalSet          byte = 0x24
	OpTableGet           byte = 0x25
	OpTableSet           byte = 0x26
)

// Memory and numeric opcodes.
const (
	OpI32Load     byte = 0x28
	OpI64Store32  byte = 0x3E
	OpMemorySize  byte = 0x3F
	OpMemoryGrow  byte = 0x40
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpI32Eqz      byte = 0x45
	OpI32Eq       byte = 0x46
	OpI32Ne       byte = 0x47
	OpI64Eqz      byte = 0x50
	OpI64Eq       byte = 0x51
	OpI64Ne       byte = 0x52
	OpI64LtS      byte = 0x53
	OpI64GeU      byte = 0x5A
	OpI32Add      byte = 0x6A
	OpI64Sub      byte = 0x7D
	OpRefNull     byte = 0xD0
	OpRefIsNull   byte = 0xD1
	OpRefFunc     byte = 0xD2
	OpRefEq       byte = 0xD3
	OpRefAsNonNul byte = 0xD4
	OpBrOnNull    byte = 0xD5
	OpBrOnNonNull byte = 0xD6
)

// Prefix bytes for multi-byte opcodes.
const (
	OpPrefixGC     byte = 0xFB
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// Atomic sub-opcodes (0xFE prefix).
const (
	AtomicNotify    uint32 = 0x00
	AtomicWait32    uint32 = 0x01
	AtomicWait64    uint32 = 0x02
	AtomicFence     uint32 = 0x03
	AtomicI32Load   uint32 = 0x10
	AtomicI64Load   uint32 = 0x11
	AtomicI32Store  uint32 = 0x17
	AtomicI32RmwAdd uint32 = 0x1E
)

// sectionOrder maps a non-custom section ID to its canonical position.
// Tag sits between memory and global; data count sits before code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}
