package diag

import (
	"fmt"
)

type Code uint16

const (
	// Неизвестная ошибка - на первое время
	UnknownCode Code = 0

	// Предупреждения раскладки (-Wpadded, -Wpacked)
	LayInfo                 Code = 1000
	LayPaddedField          Code = 1001
	LayPaddedAnonField      Code = 1002
	LayPaddedBitfield       Code = 1003
	LayPaddedRecord         Code = 1004
	LayUnnecessaryPacked    Code = 1005
	LayBitfieldClamped      Code = 1006
	LayPackedNonPOD         Code = 1007
	LayUnalignedAccess      Code = 1008
	LayIncomplete           Code = 1101
	LayRecursive            Code = 1102
	LayInvalidDecl          Code = 1103
	LayDepthExceeded        Code = 1104

	// Файлы деклараций
	DeclInfo            Code = 2000
	DeclParseError      Code = 2001
	DeclUnknownType     Code = 2002
	DeclUnknownRecord   Code = 2003
	DeclDuplicateRecord Code = 2004
	DeclInvalidAttr     Code = 2005
	DeclUnknownMethod   Code = 2006
	DeclInvalidBase     Code = 2007

	// Проверка ожиданий
	ChkInfo          Code = 3000
	ChkSizeMismatch  Code = 3001
	ChkAlignMismatch Code = 3002
	ChkFieldMismatch Code = 3003
	ChkBaseMismatch  Code = 3004
	ChkVBaseMismatch Code = 3005
	ChkTargetUnknown Code = 3006
	ChkInvariant     Code = 3007

	IOLoadFileError Code = 4001
	IOCacheError    Code = 4002

	ObsInfo Code = 6000
)

var (
	codeDescription = map[Code]string{
		UnknownCode:             "Unknown error",
		LayInfo:                 "Layout information",
		LayPaddedField:          "padding inserted before field",
		LayPaddedAnonField:      "padding inserted before anonymous field",
		LayPaddedBitfield:       "padding inserted before bitfield",
		LayPaddedRecord:         "padding inserted to reach alignment boundary",
		LayUnnecessaryPacked:    "packed attribute is unnecessary",
		LayBitfieldClamped:      "bitfield width exceeds its type",
		LayPackedNonPOD:         "packed attribute ignored for non-POD field",
		LayUnalignedAccess:      "packed field may be accessed unaligned",
		LayIncomplete:           "layout of incomplete record",
		LayRecursive:            "record contains itself by value",
		LayInvalidDecl:          "invalid record declaration",
		LayDepthExceeded:        "record nesting too deep",
		DeclInfo:                "Declaration information",
		DeclParseError:          "declaration file parse error",
		DeclUnknownType:         "unknown type",
		DeclUnknownRecord:       "unknown record",
		DeclDuplicateRecord:     "duplicate record definition",
		DeclInvalidAttr:         "invalid attribute",
		DeclUnknownMethod:       "unknown overridden method",
		DeclInvalidBase:         "invalid base specifier",
		ChkInfo:                 "Check information",
		ChkSizeMismatch:         "size differs from expectation",
		ChkAlignMismatch:        "alignment differs from expectation",
		ChkFieldMismatch:        "field offset differs from expectation",
		ChkBaseMismatch:         "base offset differs from expectation",
		ChkVBaseMismatch:        "virtual base offset differs from expectation",
		ChkTargetUnknown:        "expectation names an unknown target",
		ChkInvariant:            "computed layout violates an invariant",
		IOLoadFileError:         "I/O load file error",
		IOCacheError:            "layout cache error",
		ObsInfo:                 "Observability information",
	}
)

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("LAY%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("DCL%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("CHK%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}

// MarshalText encodes the code by its stable ID.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.ID()), nil
}
