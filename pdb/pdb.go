// Package pdb implements the outer PalmDB record container: a 78-byte
// header, a directory of (offset, attributes, uid) entries, and the
// concatenated record bodies those offsets point into.
package pdb

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/htol/gomobi/mobierr"
	"github.com/htol/gomobi/mobilog"
)

const (
	// HeaderSize is the fixed size, in bytes, of the PalmDB header,
	// including the trailing record-count field.
	HeaderSize = 78
	// Type is the required PalmDB "type" tag for a MOBI container.
	Type = "BOOK"
	// Creator is the required PalmDB "creator" tag for a MOBI container.
	Creator = "MOBI"

	dirEntrySize = 8
)

// Header mirrors the 78-byte PalmDB header exactly, field for field.
type Header struct {
	Name               [32]byte
	Attributes         uint16
	Version            uint16
	CreationDate       uint32
	ModificationDate   uint32
	LastBackupDate     uint32
	ModificationNumber uint32
	AppInfoOffset      uint32
	SortInfoOffset     uint32
	Type               [4]byte
	Creator            [4]byte
	UniqueIDSeed       uint32
	NextRecordListID   uint32
	NumRecords         uint16
}

// Record is one PalmDB record: an attribute byte, a 24-bit unique ID and its
// raw content. Offsets are never stored on Record — they are derived at
// write time from record order and size.
type Record struct {
	Attributes uint8
	UID        uint32 // low 24 bits significant
	Data       []byte
}

// Database is a full in-memory PalmDB: header metadata plus an ordered list
// of records.
type Database struct {
	Name    string
	Records []Record

	attributes uint16
	version    uint16
	ctime      uint32
	mtime      uint32
	btime      uint32
	modNum     uint32
	appInfo    uint32
	sortInfo   uint32
	uidSeed    uint32
	nextRecID  uint32
}

// New creates an empty database with the given name and a freshly generated
// unique ID seed.
func New(name string) *Database {
	return &Database{
		Name:    name,
		uidSeed: randomUint32(),
	}
}

// AddRecord appends a record and returns its index.
func (d *Database) AddRecord(data []byte, attributes uint8, uid uint32) int {
	d.Records = append(d.Records, Record{Attributes: attributes, UID: uid & 0x00FFFFFF, Data: data})
	return len(d.Records) - 1
}

// Write serializes the database: header, then record directory, then record
// bodies concatenated in order, with each directory offset computed fresh
// from the logical structure.
func (d *Database) Write(w io.Writer, log *zap.Logger) error {
	log = mobilog.Or(log)

	h := Header{
		Attributes:       d.attributes,
		Version:          d.version,
		CreationDate:     orNow(d.ctime),
		ModificationDate: orNow(d.mtime),
		LastBackupDate:   d.btime,
		ModificationNumber: d.modNum,
		AppInfoOffset:    d.appInfo,
		SortInfoOffset:   d.sortInfo,
		UniqueIDSeed:     orRandom(d.uidSeed),
		NextRecordListID: d.nextRecID,
		NumRecords:       uint16(len(d.Records)),
	}
	copy(h.Name[:], d.Name)
	copy(h.Type[:], Type)
	copy(h.Creator[:], Creator)

	if err := writeHeader(w, &h); err != nil {
		return mobierr.IO("pdb.Write/header", err)
	}

	dataOffset := HeaderSize + len(d.Records)*dirEntrySize
	for _, r := range d.Records {
		if err := writeDirEntry(w, uint32(dataOffset), r.Attributes, r.UID); err != nil {
			return mobierr.IO("pdb.Write/directory", err)
		}
		dataOffset += len(r.Data)
	}

	for i, r := range d.Records {
		if _, err := w.Write(r.Data); err != nil {
			return mobierr.IO("pdb.Write/record", err)
		}
		log.Debug("wrote palmdb record", zap.Int("index", i), zap.Int("size", len(r.Data)))
	}

	log.Debug("wrote palmdb database", zap.String("name", d.Name), zap.Int("records", len(d.Records)))
	return nil
}

// Read parses a complete PalmDB image from data.
func Read(data []byte, log *zap.Logger) (*Database, error) {
	log = mobilog.Or(log)

	if len(data) < HeaderSize {
		return nil, mobierr.Malformedf("pdb.Read/header", "short read: have %d bytes, need %d", len(data), HeaderSize)
	}

	typeTag := data[60:64]
	if string(typeTag) != Type {
		return nil, mobierr.Magicf("pdb.Read/type", []byte(Type), typeTag)
	}
	creatorTag := data[64:68]
	if string(creatorTag) != Creator {
		return nil, mobierr.Magicf("pdb.Read/creator", []byte(Creator), creatorTag)
	}

	numRecords := int(binary.BigEndian.Uint16(data[76:78]))
	dirEnd := HeaderSize + numRecords*dirEntrySize
	if len(data) < dirEnd {
		return nil, mobierr.Malformedf("pdb.Read/directory", "short read: have %d bytes, need %d for %d records", len(data), dirEnd, numRecords)
	}

	type dirEntry struct {
		offset uint32
		attrs  uint8
		uid    uint32
	}
	dirs := make([]dirEntry, numRecords)
	for i := 0; i < numRecords; i++ {
		base := HeaderSize + i*dirEntrySize
		offset := binary.BigEndian.Uint32(data[base : base+4])
		attrs := data[base+4]
		uid := uint32(data[base+5])<<16 | uint32(binary.BigEndian.Uint16(data[base+6:base+8]))
		dirs[i] = dirEntry{offset: offset, attrs: attrs, uid: uid}
	}

	db := &Database{
		Name:       trimName(data[0:32]),
		Records:    make([]Record, numRecords),
		attributes: binary.BigEndian.Uint16(data[32:34]),
		version:    binary.BigEndian.Uint16(data[34:36]),
		ctime:      binary.BigEndian.Uint32(data[36:40]),
		mtime:      binary.BigEndian.Uint32(data[40:44]),
		btime:      binary.BigEndian.Uint32(data[44:48]),
		modNum:     binary.BigEndian.Uint32(data[48:52]),
		appInfo:    binary.BigEndian.Uint32(data[52:56]),
		sortInfo:   binary.BigEndian.Uint32(data[56:60]),
		uidSeed:    binary.BigEndian.Uint32(data[68:72]),
		nextRecID:  binary.BigEndian.Uint32(data[72:76]),
	}

	for i, dir := range dirs {
		start := int(dir.offset)
		var end int
		if i+1 < len(dirs) {
			end = int(dirs[i+1].offset)
		} else {
			end = len(data)
		}
		if start < 0 || end < start || end > len(data) {
			return nil, mobierr.Malformedf("pdb.Read/record", "record %d has invalid range [%d,%d) in %d-byte file", i, start, end, len(data))
		}
		db.Records[i] = Record{Attributes: dir.attrs, UID: dir.uid, Data: data[start:end]}
	}

	log.Debug("read palmdb database", zap.String("name", db.Name), zap.Int("records", numRecords))
	return db, nil
}

func writeHeader(w io.Writer, h *Header) error {
	fields := []interface{}{
		h.Name, h.Attributes, h.Version, h.CreationDate, h.ModificationDate,
		h.LastBackupDate, h.ModificationNumber, h.AppInfoOffset, h.SortInfoOffset,
		h.Type, h.Creator, h.UniqueIDSeed, h.NextRecordListID, h.NumRecords,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func writeDirEntry(w io.Writer, offset uint32, attrs uint8, uid uint32) error {
	if err := binary.Write(w, binary.BigEndian, offset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, attrs); err != nil {
		return err
	}
	uidBytes := []byte{byte(uid >> 16), byte(uid >> 8), byte(uid)}
	_, err := w.Write(uidBytes)
	return err
}

func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func orNow(v uint32) uint32 {
	if v != 0 {
		return v
	}
	return uint32(time.Now().Unix())
}

func orRandom(v uint32) uint32 {
	if v != 0 {
		return v
	}
	return randomUint32()
}

func randomUint32() uint32 {
	n, err := rand.Int(rand.Reader, big.NewInt(0xFFFFFFFF))
	if err != nil {
		return 1
	}
	return uint32(n.Uint64()) + 1
}
