package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// currentFile names the generation directory that holds live entries.
const currentFile = "CURRENT"

// headerSize is the big-endian modification time prefix of every entry file.
const headerSize = 8

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codec returns the process-wide zstd encoder and decoder. EncodeAll and
// DecodeAll are safe for concurrent use.
func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// diskStore persists entries of one cache generation under a directory.
type diskStore struct {
	root string
	dir  string
}

// openDiskStore opens the live generation under root, creating one when none
// exists yet.
func openDiskStore(root string) (*diskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	name, err := os.ReadFile(filepath.Join(root, currentFile))
	if err == nil {
		dir := filepath.Join(root, strings.TrimSpace(string(name)))
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return &diskStore{root: root, dir: dir}, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading cache generation: %w", err)
	}

	return newDiskGeneration(root)
}

// newDiskGeneration creates an empty generation and makes it current.
func newDiskGeneration(root string) (*diskStore, error) {
	name := uuid.NewString()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache generation: %w", err)
	}
	if err := writeFileAtomic(root, currentFile, []byte(name)); err != nil {
		return nil, fmt.Errorf("switching cache generation: %w", err)
	}
	return &diskStore{root: root, dir: dir}, nil
}

func (d *diskStore) path(key string) string {
	return filepath.Join(d.dir, key+".zst")
}

func (d *diskStore) get(key string) (Entry, bool, error) {
	raw, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if len(raw) < headerSize {
		return Entry{}, false, fmt.Errorf("cache entry %s is truncated", key)
	}

	_, dec, err := codec()
	if err != nil {
		return Entry{}, false, err
	}
	data, err := dec.DecodeAll(raw[headerSize:], nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}

	return Entry{
		Data:       string(data),
		ModifiedAt: int64(binary.BigEndian.Uint64(raw[:headerSize])),
	}, true, nil
}

func (d *diskStore) put(key string, entry Entry) error {
	enc, _, err := codec()
	if err != nil {
		return err
	}

	buf := make([]byte, headerSize, headerSize+len(entry.Data)/2)
	binary.BigEndian.PutUint64(buf, uint64(entry.ModifiedAt))
	buf = enc.EncodeAll([]byte(entry.Data), buf)

	return writeFileAtomic(d.dir, key+".zst", buf)
}

// remove deletes the generation directory.
func (d *diskStore) remove() error {
	return os.RemoveAll(d.dir)
}

// writeFileAtomic writes through a temp file and a rename so readers never
// observe a partially written file.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
