package models

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// savestate format:
//
// file header
// uint32(magic "EMSS")
// uint32(savestate format version)
// uint32(crc32 of compressed data)
// uint32(length of compressed data)
// remainder is snappy-compressed
//
// -- uncompressed data start --
// uint8(force raw override)
//
// Everything else the scheduler owns is rebuilt on start.

const (
	saveMagic          = 0x454d5353
	SavedStateVersion  = 3
	maxCompressedState = 1 << 16
)

type saveHeader struct {
	Magic   uint32
	Version uint32
	Crc     uint32
	Length  uint32
}

type savedScheduler struct {
	ForceRaw bool
}

func SaveForceRaw(w io.Writer, forceRaw bool) error {
	var body bytes.Buffer
	s := StrucStream{&body, binary.BigEndian}
	if err := s.Pack(&savedScheduler{ForceRaw: forceRaw}); err != nil {
		return errors.Wrap(err, "packing scheduler state failed")
	}
	data := snappy.Encode(nil, body.Bytes())

	var out bytes.Buffer
	s = StrucStream{&out, binary.BigEndian}
	hdr := &saveHeader{
		Magic:   saveMagic,
		Version: SavedStateVersion,
		Crc:     crc32.ChecksumIEEE(data),
		Length:  uint32(len(data)),
	}
	if err := s.Pack(hdr); err != nil {
		return errors.Wrap(err, "packing savestate header failed")
	}
	out.Write(data)
	_, err := out.WriteTo(w)
	return errors.Wrap(err, "writing savestate failed")
}

func LoadForceRaw(r io.Reader) (bool, error) {
	var hdr saveHeader
	s := StrucStream{readOnly{r}, binary.BigEndian}
	if err := s.Unpack(&hdr); err != nil {
		return false, errors.Wrap(err, "reading savestate header failed")
	}
	if hdr.Magic != saveMagic {
		return false, errors.Wrapf(ErrSavedState, "bad savestate magic %#x", hdr.Magic)
	}
	if hdr.Version != SavedStateVersion {
		return false, errors.Wrapf(ErrSavedState, "savestate version %d, expected %d", hdr.Version, SavedStateVersion)
	}
	if hdr.Length > maxCompressedState {
		return false, errors.Wrapf(ErrSavedState, "savestate body too large (%d bytes)", hdr.Length)
	}
	data := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return false, errors.Wrap(err, "reading savestate body failed")
	}
	if crc32.ChecksumIEEE(data) != hdr.Crc {
		return false, errors.Wrap(ErrSavedState, "savestate checksum mismatch")
	}
	body, err := snappy.Decode(nil, data)
	if err != nil {
		return false, errors.Wrap(err, "decompressing savestate failed")
	}
	var st savedScheduler
	s = StrucStream{readOnly{bytes.NewReader(body)}, binary.BigEndian}
	if err := s.Unpack(&st); err != nil {
		return false, errors.Wrap(err, "unpacking scheduler state failed")
	}
	return st.ForceRaw, nil
}

// readOnly adapts a reader to StrucStream.
type readOnly struct {
	io.Reader
}

func (readOnly) Write(p []byte) (int, error) {
	return 0, errors.New("read-only stream")
}
