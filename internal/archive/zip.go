// Package archive implements the minimal store-only ZIP container used by
// bundle files. Only compression method 0 (store) is produced or accepted,
// which keeps the format trivially seekable: every entry's bytes sit verbatim
// after a fixed-size local header.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	localFileHeaderSignature       = 0x04034b50
	centralDirectorySignature      = 0x02014b50
	endOfCentralDirectorySignature = 0x06054b50

	localFileHeaderSize       = 30
	centralDirectoryEntrySize = 46
	endOfCentralDirectorySize = 22

	maxCommentLength = 0xffff

	versionMadeBy     = 20
	versionNeeded     = 20
	methodStore       = 0
	generalPurposeBit = 0
)

var (
	// ErrMissingEndRecord indicates that no end-of-central-directory record was found.
	ErrMissingEndRecord = errors.New("archive: end of central directory not found")
	// ErrMalformedArchive indicates structurally invalid archive bytes.
	ErrMalformedArchive = errors.New("archive: malformed archive")
	// ErrUnsupportedCompression indicates an entry not stored with method 0.
	ErrUnsupportedCompression = errors.New("archive: unsupported compression method")
)

// Entry is a single named blob inside an archive.
type Entry struct {
	Name string
	Data []byte
}

func dosTimeDate(moment time.Time) (uint16, uint16) {
	year := moment.Year()
	if year < 1980 {
		year = 1980
	}
	dosTime := uint16(moment.Hour())<<11 | uint16(moment.Minute())<<5 | uint16(moment.Second()/2)
	dosDate := uint16(year-1980)<<9 | uint16(moment.Month())<<5 | uint16(moment.Day())
	return dosTime, dosDate
}

// Write serializes entries into store-only archive bytes. Entry order is
// preserved; names are written as raw UTF-8 without any normalization.
func Write(entries []Entry, moment time.Time) []byte {
	dosTime, dosDate := dosTimeDate(moment)

	var local []byte
	var central []byte

	for _, entry := range entries {
		nameBytes := []byte(entry.Name)
		checksum := crc32.ChecksumIEEE(entry.Data)
		offset := uint32(len(local))

		header := make([]byte, localFileHeaderSize, localFileHeaderSize+len(nameBytes))
		binary.LittleEndian.PutUint32(header[0:], localFileHeaderSignature)
		binary.LittleEndian.PutUint16(header[4:], versionNeeded)
		binary.LittleEndian.PutUint16(header[6:], generalPurposeBit)
		binary.LittleEndian.PutUint16(header[8:], methodStore)
		binary.LittleEndian.PutUint16(header[10:], dosTime)
		binary.LittleEndian.PutUint16(header[12:], dosDate)
		binary.LittleEndian.PutUint32(header[14:], checksum)
		binary.LittleEndian.PutUint32(header[18:], uint32(len(entry.Data)))
		binary.LittleEndian.PutUint32(header[22:], uint32(len(entry.Data)))
		binary.LittleEndian.PutUint16(header[26:], uint16(len(nameBytes)))
		binary.LittleEndian.PutUint16(header[28:], 0)
		header = append(header, nameBytes...)

		local = append(local, header...)
		local = append(local, entry.Data...)

		record := make([]byte, centralDirectoryEntrySize, centralDirectoryEntrySize+len(nameBytes))
		binary.LittleEndian.PutUint32(record[0:], centralDirectorySignature)
		binary.LittleEndian.PutUint16(record[4:], versionMadeBy)
		binary.LittleEndian.PutUint16(record[6:], versionNeeded)
		binary.LittleEndian.PutUint16(record[8:], generalPurposeBit)
		binary.LittleEndian.PutUint16(record[10:], methodStore)
		binary.LittleEndian.PutUint16(record[12:], dosTime)
		binary.LittleEndian.PutUint16(record[14:], dosDate)
		binary.LittleEndian.PutUint32(record[16:], checksum)
		binary.LittleEndian.PutUint32(record[20:], uint32(len(entry.Data)))
		binary.LittleEndian.PutUint32(record[24:], uint32(len(entry.Data)))
		binary.LittleEndian.PutUint16(record[28:], uint16(len(nameBytes)))
		binary.LittleEndian.PutUint32(record[42:], offset)
		record = append(record, nameBytes...)

		central = append(central, record...)
	}

	end := make([]byte, endOfCentralDirectorySize)
	binary.LittleEndian.PutUint32(end[0:], endOfCentralDirectorySignature)
	binary.LittleEndian.PutUint16(end[8:], uint16(len(entries)))
	binary.LittleEndian.PutUint16(end[10:], uint16(len(entries)))
	binary.LittleEndian.PutUint32(end[12:], uint32(len(central)))
	binary.LittleEndian.PutUint32(end[16:], uint32(len(local)))

	out := make([]byte, 0, len(local)+len(central)+len(end))
	out = append(out, local...)
	out = append(out, central...)
	out = append(out, end...)
	return out
}

func findEndOfCentralDirectory(data []byte) (int, error) {
	if len(data) < endOfCentralDirectorySize {
		return 0, ErrMissingEndRecord
	}

	lowest := len(data) - endOfCentralDirectorySize - maxCommentLength
	if lowest < 0 {
		lowest = 0
	}

	for i := len(data) - endOfCentralDirectorySize; i >= lowest; i-- {
		if binary.LittleEndian.Uint32(data[i:]) == endOfCentralDirectorySignature {
			return i, nil
		}
	}

	return 0, ErrMissingEndRecord
}

// Read parses archive bytes and returns the contained entries in central
// directory order. Entries compressed with anything but method 0 are
// rejected with ErrUnsupportedCompression.
func Read(data []byte) ([]Entry, error) {
	endOffset, err := findEndOfCentralDirectory(data)
	if err != nil {
		return nil, err
	}

	end := data[endOffset:]
	totalEntries := int(binary.LittleEndian.Uint16(end[10:]))
	directoryOffset := int(binary.LittleEndian.Uint32(end[16:]))

	entries := make([]Entry, 0, totalEntries)
	offset := directoryOffset

	for i := 0; i < totalEntries; i++ {
		if offset+centralDirectoryEntrySize > len(data) {
			return nil, fmt.Errorf("%w: truncated central directory", ErrMalformedArchive)
		}
		record := data[offset:]
		if binary.LittleEndian.Uint32(record[0:]) != centralDirectorySignature {
			return nil, fmt.Errorf("%w: bad central directory signature", ErrMalformedArchive)
		}

		method := binary.LittleEndian.Uint16(record[10:])
		if method != methodStore {
			return nil, fmt.Errorf("%w: method %d", ErrUnsupportedCompression, method)
		}

		compressedSize := int(binary.LittleEndian.Uint32(record[20:]))
		nameLength := int(binary.LittleEndian.Uint16(record[28:]))
		extraLength := int(binary.LittleEndian.Uint16(record[30:]))
		commentLength := int(binary.LittleEndian.Uint16(record[32:]))
		localOffset := int(binary.LittleEndian.Uint32(record[42:]))

		nameStart := offset + centralDirectoryEntrySize
		nameEnd := nameStart + nameLength
		if nameEnd > len(data) {
			return nil, fmt.Errorf("%w: truncated entry name", ErrMalformedArchive)
		}
		name := string(data[nameStart:nameEnd])

		if localOffset+localFileHeaderSize > len(data) {
			return nil, fmt.Errorf("%w: truncated local header", ErrMalformedArchive)
		}
		local := data[localOffset:]
		if binary.LittleEndian.Uint32(local[0:]) != localFileHeaderSignature {
			return nil, fmt.Errorf("%w: bad local header signature", ErrMalformedArchive)
		}

		localNameLength := int(binary.LittleEndian.Uint16(local[26:]))
		localExtraLength := int(binary.LittleEndian.Uint16(local[28:]))

		fileStart := localOffset + localFileHeaderSize + localNameLength + localExtraLength
		fileEnd := fileStart + compressedSize
		if fileEnd > len(data) {
			return nil, fmt.Errorf("%w: truncated entry data", ErrMalformedArchive)
		}

		entryData := make([]byte, compressedSize)
		copy(entryData, data[fileStart:fileEnd])
		entries = append(entries, Entry{Name: name, Data: entryData})

		offset = nameEnd + extraLength + commentLength
	}

	return entries, nil
}
