package mapsheet

import (
	"bytes"
	"encoding/binary"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// Stream is a generic reader/seeker so the backing store can be driven
// either by a *tiledb.VFSfh (local disk or any VFS-capable object store)
// or an in-memory *bytes.Reader, mirroring the teacher's reader.go: all
// PersistenceLayer code cares about is Read and Seek.
type Stream interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}

// Tell reports the current position within a Stream.
func Tell(stream Stream) (int64, error) {
	return stream.Seek(0, 1)
}

// GenericStream wraps a *tiledb.VFSfh, optionally slurping it entirely
// into memory first. In-memory mode trades a single eager read for
// every subsequent access being a plain byte-slice seek/read, which is
// worthwhile for small files (header, params, nominations) read
// repeatedly during a MapSheet's lifetime.
func GenericStream(stream *tiledb.VFSfh, size uint64, inMemory bool) (Stream, error) {
	if !inMemory {
		return stream, nil
	}
	buffer := make([]byte, size)
	if err := binary.Read(stream, binary.BigEndian, buffer); err != nil {
		return nil, err
	}
	return bytes.NewReader(buffer), nil
}
