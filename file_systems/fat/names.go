package fat

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/vireo-systems/fatvol/errors"
)

// lfnSeqLast marks the logically-last entry in an LFN run: the one with the
// highest sequence number, written first on disk and so farthest from the
// short entry the run belongs to.
const lfnSeqLast = 0x40

// lfnCharsPerEntry is the number of UCS-2 characters packed into one 32-byte
// LFN directory entry.
const lfnCharsPerEntry = 13

// forbiddenNameChars lists the bytes FAT forbids in a long file name, the path
// separator included; control bytes are rejected separately.
const forbiddenNameChars = `\/:*?"<>|`

// ValidateName checks a logical (long) file name for characters FAT forbids.
// It does not check for uniqueness within a directory; callers are expected
// to have already searched the target directory for a collision.
func ValidateName(name string) error {
	if name == "" {
		return errors.ErrInvalidName.WithMessage("name must not be empty")
	}
	if name == "." || name == ".." {
		return errors.ErrInvalidName.WithMessage("name must not be \".\" or \"..\"")
	}
	for _, r := range name {
		if r < 0x20 {
			return errors.ErrInvalidName.WithMessage("name contains a control character")
		}
		if strings.ContainsRune(forbiddenNameChars, r) {
			return errors.ErrInvalidName.WithMessage("name contains a reserved character")
		}
	}
	return nil
}

// ShortNameChecksum computes the LFN checksum of an 11-byte 8.3 short name
// (8 bytes of base name followed by 3 bytes of extension, both space-padded).
// It is the standard FAT algorithm: for each byte, rotate the accumulator
// right by one bit and add the byte, modulo 256.
func ShortNameChecksum(shortName [11]byte) uint8 {
	var sum uint8
	for _, b := range shortName {
		sum = ((sum & 1) << 7) | (sum >> 1)
		sum += b
	}
	return sum
}

// shortNameCandidate is the result of synthesizing an 8.3 name from a long
// logical name.
type shortNameCandidate struct {
	raw       [11]byte // space-padded base+extension, uppercase
	needsLFN  bool
	lowerBase bool // NT reserved-byte case flag, only meaningful when !needsLFN
	lowerExt  bool
}

// stripToShortChars uppercases s and drops any character that isn't legal in
// an 8.3 component, returning the result and whether anything was dropped or
// case-folded (which forces an LFN run even if the result happens to fit 8.3).
func stripToShortChars(s string) (string, bool) {
	var b strings.Builder
	lossy := false
	hadLower := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			hadLower = true
			b.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("$%'-_@~`!(){}^#&", r):
			b.WriteRune(r)
		case r == ' ':
			// Spaces are dropped from short names entirely.
			lossy = true
		default:
			lossy = true
			b.WriteRune('_')
		}
	}
	return b.String(), lossy || hadLower
}

// SynthesizeShortName derives an 8.3 short name for logicalName. numericTail,
// if greater than 0, forces the "~N" numeric-tail form used to disambiguate
// collisions (e.g. tail=1 produces "LONGFI~1"); pass 0 to get the name
// unmodified when it already fits without one.
func SynthesizeShortName(logicalName string, numericTail int) shortNameCandidate {
	base := logicalName
	ext := ""
	if dot := strings.LastIndexByte(logicalName, '.'); dot > 0 {
		base = logicalName[:dot]
		ext = logicalName[dot+1:]
	}

	strippedBase, baseLossy := stripToShortChars(base)
	strippedExt, extLossy := stripToShortChars(ext)

	needsLFN := baseLossy || extLossy || len(strippedBase) > 8 || len(strippedExt) > 3 ||
		numericTail > 0

	if len(strippedExt) > 3 {
		strippedExt = strippedExt[:3]
	}

	truncatedBase := strippedBase
	if numericTail > 0 {
		tail := "~" + itoa(numericTail)
		maxBaseLen := 8 - len(tail)
		if maxBaseLen < 1 {
			maxBaseLen = 1
		}
		if len(truncatedBase) > maxBaseLen {
			truncatedBase = truncatedBase[:maxBaseLen]
		}
		truncatedBase += tail
	} else if len(truncatedBase) > 8 {
		truncatedBase = truncatedBase[:8]
	}

	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[0:8], truncatedBase)
	copy(raw[8:11], strippedExt)

	return shortNameCandidate{
		raw:       raw,
		needsLFN:  needsLFN,
		lowerBase: !needsLFN && base != "" && base == strings.ToLower(base) && base != strings.ToUpper(base),
		lowerExt:  !needsLFN && ext != "" && ext == strings.ToLower(ext) && ext != strings.ToUpper(ext),
	}
}

// itoa avoids pulling in strconv for a single-digit-to-small-int case used
// only by the numeric-tail synthesizer.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// lfnChunks splits a logical name into 13-UCS-2-character chunks for LFN
// encoding, one 16-bit code unit per rune. No surrogate pairs are produced: a
// rune above U+FFFF keeps only its low 16 bits (see DESIGN.md for the matching
// decode on the read path).
func lfnChunks(name string) [][lfnCharsPerEntry]uint16 {
	units := []uint16{}
	for _, r := range name {
		if r > 0xFFFF {
			// Outside the BMP; this driver, like its reference, only carries
			// the low 16 bits through encode/decode (see DESIGN.md).
			r = r & 0xFFFF
		}
		units = append(units, uint16(r))
	}

	var chunks [][lfnCharsPerEntry]uint16
	for i := 0; i < len(units); i += lfnCharsPerEntry {
		var chunk [lfnCharsPerEntry]uint16
		n := copy(chunk[:], units[i:])
		if n < lfnCharsPerEntry {
			chunk[n] = 0x0000
			for j := n + 1; j < lfnCharsPerEntry; j++ {
				chunk[j] = 0xFFFF
			}
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		// Zero-length name never reaches here in practice (ValidateName
		// rejects it), but keep EncodeLFNEntries total.
		var chunk [lfnCharsPerEntry]uint16
		chunk[0] = 0x0000
		for j := 1; j < lfnCharsPerEntry; j++ {
			chunk[j] = 0xFFFF
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

var lfnEntryOffsets = [lfnCharsPerEntry]struct{ start, len int }{
	{0x01, 10}, {0x0E, 12}, {0x1C, 4},
}

// EncodeLFNEntries builds the ordered sequence of 32-byte LFN directory
// entries for name, in on-disk write order: sequence N with the 0x40
// "logically last" bit set first, counting down to sequence 1. checksum is
// the checksum of the short entry this run precedes.
func EncodeLFNEntries(name string, checksum uint8) [][32]byte {
	chunks := lfnChunks(name)
	entries := make([][32]byte, len(chunks))

	for i, chunk := range chunks {
		var entry [32]byte
		seq := uint8(i + 1)
		if i == len(chunks)-1 {
			seq |= lfnSeqLast
		}
		entry[0x00] = seq
		entry[0x0B] = 0x0F // LFN attribute marker
		entry[0x0C] = 0x00
		entry[0x0D] = checksum
		entry[0x1A] = 0x00
		entry[0x1B] = 0x00

		charIdx := 0
		for _, region := range lfnEntryOffsets {
			for b := 0; b < region.len; b += 2 {
				binary.LittleEndian.PutUint16(
					entry[region.start+b:region.start+b+2], chunk[charIdx])
				charIdx++
			}
		}
		entries[i] = entry
	}

	// Reverse into write order: highest sequence number first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// decodeLFNSlotChars extracts the 13 UCS-2 code units from one raw 32-byte
// LFN entry.
func decodeLFNSlotChars(entry []byte) [lfnCharsPerEntry]uint16 {
	var chars [lfnCharsPerEntry]uint16
	charIdx := 0
	for _, region := range lfnEntryOffsets {
		for b := 0; b < region.len; b += 2 {
			chars[charIdx] = binary.LittleEndian.Uint16(entry[region.start+b : region.start+b+2])
			charIdx++
		}
	}
	return chars
}

// PackDate encodes a calendar date into the FAT date word format: bits 15-9
// are years since 1980, 8-5 the month, 4-0 the day.
func PackDate(year int, month time.Month, day int) uint16 {
	y := year - 1980
	if y < 0 {
		y = 0
	}
	return uint16(y<<9) | uint16(int(month)<<5) | uint16(day)
}

// PackTime encodes a clock time into the FAT time word format: bits 15-11
// hour, 10-5 minute, 4-0 two-second units.
func PackTime(hour, minute, second int) uint16 {
	return uint16(hour<<11) | uint16(minute<<5) | uint16(second/2)
}
