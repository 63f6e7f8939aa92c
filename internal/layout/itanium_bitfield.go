package layout

import (
	"fmt"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
)

// layoutBitField places a bitfield following the System V rules: the field
// goes at the next free bit as long as it fits in one aligned storage unit
// of its declared type. ms_struct records instead allocate whole storage
// units and share them only between bitfields of the same type size.
func (b *itaniumBuilder) layoutBitField(i int) {
	fi := &b.env.fields[i]
	f := fi.decl
	t := b.target

	fieldPacked := b.packed || f.Packed
	fieldSize := int64(f.Width)
	storageUnitSize := bytesToBits(fi.info.Size)
	fieldAlign := bytesToBits(fi.info.Align)

	if b.msStruct {
		fieldAlign = storageUnitSize
		// A new type size, or no room left, closes the current unit.
		if b.lastBitfieldStorageUnitSize != storageUnitSize || b.unfilledBitsInLastUnit < fieldSize {
			// Zero-width bitfields after a non-bitfield are ignored.
			if b.lastBitfieldStorageUnitSize == 0 && fieldSize == 0 {
				fieldAlign = 1
			}
			b.unfilledBitsInLastUnit = 0
			b.lastBitfieldStorageUnitSize = 0
		}
	}

	if fieldSize > storageUnitSize {
		b.layoutWideBitField(i, fieldSize, fieldPacked)
		return
	}

	fieldOffset := b.dataSize - b.unfilledBitsInLastUnit
	if b.isUnion {
		fieldOffset = 0
	}

	if !b.msStruct && !t.UseBitFieldTypeAlignment {
		switch {
		case fieldSize == 0 && t.UseZeroLengthBitfieldAlignment:
			if !b.isUnion && fieldOffset == 0 && !t.UseLeadingZeroLengthBitfield {
				fieldAlign = 1
			} else {
				fieldAlign = max(fieldAlign, t.ZeroLengthBitfieldBoundary)
			}
		default:
			fieldAlign = 1
		}
	}

	unpackedFieldAlign := fieldAlign

	// Packed bitfields take the next free bit; zero-width ones still align.
	if !b.msStruct && fieldPacked && fieldSize != 0 {
		fieldAlign = 1
	}

	explicitFieldAlign := bytesToBits(f.Align)
	if explicitFieldAlign != 0 {
		fieldAlign = max(fieldAlign, explicitFieldAlign)
		unpackedFieldAlign = max(unpackedFieldAlign, explicitFieldAlign)
	}

	// #pragma pack beats aligned, except on zero-width bitfields.
	maxFieldAlignmentInBits := bytesToBits(b.maxFieldAlignment)
	if b.maxFieldAlignment != 0 && fieldSize != 0 {
		unpackedFieldAlign = min(unpackedFieldAlign, maxFieldAlignmentInBits)
		if fieldPacked {
			fieldAlign = unpackedFieldAlign
		} else {
			fieldAlign = min(fieldAlign, maxFieldAlignmentInBits)
		}
	}

	if b.msStruct && b.isUnion {
		fieldAlign, unpackedFieldAlign = 1, 1
	}

	unpaddedFieldOffset := fieldOffset
	unpackedFieldOffset := fieldOffset

	if b.msStruct {
		if fieldSize == 0 || fieldSize > b.unfilledBitsInLastUnit {
			fieldOffset = alignTo(fieldOffset, fieldAlign)
			unpackedFieldOffset = alignTo(unpackedFieldOffset, unpackedFieldAlign)
			b.unfilledBitsInLastUnit = 0
		}
	} else {
		// #pragma pack, with any value, suppresses padding between bitfields.
		allowPadding := b.maxFieldAlignment == 0
		honourExplicit := explicitFieldAlign != 0 &&
			(maxFieldAlignmentInBits == 0 || explicitFieldAlign <= maxFieldAlignmentInBits) &&
			t.UseExplicitBitFieldAlignment

		switch {
		case fieldSize == 0 || (allowPadding && fieldOffset&(fieldAlign-1)+fieldSize > storageUnitSize):
			fieldOffset = alignTo(fieldOffset, fieldAlign)
		case honourExplicit:
			fieldOffset = alignTo(fieldOffset, explicitFieldAlign)
		}

		switch {
		case fieldSize == 0 || (allowPadding && unpackedFieldOffset&(unpackedFieldAlign-1)+fieldSize > storageUnitSize):
			unpackedFieldOffset = alignTo(unpackedFieldOffset, unpackedFieldAlign)
		case honourExplicit:
			unpackedFieldOffset = alignTo(unpackedFieldOffset, explicitFieldAlign)
		}
	}

	b.fieldOffsets = append(b.fieldOffsets, fieldOffset)

	// Unnamed bitfields leave the record alignment alone unless the target
	// says otherwise.
	if !b.msStruct && !t.UseZeroLengthBitfieldAlignment && !f.HasIdentifier() {
		fieldAlign, unpackedFieldAlign = 1, 1
	}

	b.checkFieldPadding(i, fieldOffset, unpaddedFieldOffset, unpackedFieldOffset, fieldPacked)

	switch {
	case b.isUnion:
		var roundedFieldSize int64
		if b.msStruct {
			roundedFieldSize = storageUnitSize
			if fieldSize == 0 {
				roundedFieldSize = CharWidth
			}
		} else {
			roundedFieldSize = alignTo(fieldSize, CharWidth)
		}
		b.dataSize = max(b.dataSize, roundedFieldSize)

	case b.msStruct && fieldSize != 0:
		if b.unfilledBitsInLastUnit == 0 {
			b.dataSize = fieldOffset + storageUnitSize
			b.unfilledBitsInLastUnit = storageUnitSize
		}
		b.unfilledBitsInLastUnit -= fieldSize
		b.lastBitfieldStorageUnitSize = storageUnitSize

	default:
		newSizeInBits := fieldOffset + fieldSize
		b.dataSize = alignTo(newSizeInBits, CharWidth)
		b.unfilledBitsInLastUnit = b.dataSize - newSizeInBits
		b.lastBitfieldStorageUnitSize = 0
	}

	b.size = max(b.size, b.dataSize)
	b.updateAlignment(bitsToBytes(max(fieldAlign, CharWidth)), bitsToBytes(max(unpackedFieldAlign, CharWidth)))
}

// wideBitfieldTypes is the candidate list for a bitfield wider than its
// declared type: the largest whose width does not exceed the field width
// provides the alignment. Extended integer types such as __int128 never
// take part.
var wideBitfieldTypes = [...]decl.Builtin{
	decl.UChar, decl.UShort, decl.UInt, decl.ULong, decl.ULongLong,
}

func (b *itaniumBuilder) layoutWideBitField(i int, fieldSize int64, fieldPacked bool) {
	typeAlign := int64(1)
	for _, cand := range wideBitfieldTypes {
		s, ok := b.target.Scalar(cand)
		if !ok {
			continue
		}
		if bytesToBits(s.Size) > fieldSize {
			break
		}
		typeAlign = s.Align
	}
	b.env.warn(diag.LayBitfieldClamped, b.env.fieldName(i),
		fmt.Sprintf("width of bit-field '%s' (%d bits) exceeds the width of its type; value will be truncated to %d bits",
			b.env.fieldName(i), fieldSize, bytesToBits(b.env.fields[i].info.Size)))

	b.unfilledBitsInLastUnit = 0
	b.lastBitfieldStorageUnitSize = 0

	var fieldOffset int64
	unpaddedFieldOffset := b.dataSize
	if b.isUnion {
		b.dataSize = max(b.dataSize, alignTo(fieldSize, CharWidth))
	} else {
		fieldOffset = alignTo(b.dataSize, bytesToBits(typeAlign))
		newSizeInBits := fieldOffset + fieldSize
		b.dataSize = alignTo(newSizeInBits, CharWidth)
		b.unfilledBitsInLastUnit = b.dataSize - newSizeInBits
	}

	b.fieldOffsets = append(b.fieldOffsets, fieldOffset)
	b.checkFieldPadding(i, fieldOffset, unpaddedFieldOffset, fieldOffset, fieldPacked)

	b.size = max(b.size, b.dataSize)
	b.updateAlignment(typeAlign, typeAlign)
}
