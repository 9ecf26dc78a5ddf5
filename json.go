package mapsheet

import (
	"encoding/json"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// readJSON deserialises the JSON file at fileURI through vfs into v.
func readJSON(vfs *tiledb.VFS, fileURI string, v any) error {
	exists, err := vfs.IsFile(fileURI)
	if err != nil {
		return err
	}
	if !exists {
		return ErrBackingStore
	}
	size, err := vfs.FileSize(fileURI)
	if err != nil {
		return err
	}
	fh, err := vfs.Open(fileURI, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return err
	}
	defer fh.Close()

	stream, err := GenericStream(fh, size, true)
	if err != nil {
		return err
	}
	return json.NewDecoder(stream).Decode(v)
}

// JsonDumps constructs a JSON string of the supplied data, continuing the
// teacher's json.go helper of the same name.
func JsonDumps(data any) (string, error) {
	jsn, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}

// JsonIndentDumps constructs an indented JSON string of the supplied data.
func JsonIndentDumps(data any) (string, error) {
	jsn, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}
