package object

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrAmbiguousPrefix is returned by ResolvePrefix when more than one object
// matches an abbreviated id.
var ErrAmbiguousPrefix = errors.New("ambiguous object id prefix")

// zstdMagic starts every zstd frame. Objects written before compression was
// introduced are stored raw and never begin with these bytes, since a raw
// envelope always starts with the ASCII object type.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123...
//
// Objects are hashed over their uncompressed "type len\0content" envelope
// and stored zstd-compressed.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory. The objects/
// subdirectory is created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	if len(h) < 3 {
		return false
	}
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Write stores an object and returns its content hash. Writes are atomic:
// data is written to a temp file and then renamed into place.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)
	if s.Has(h) {
		return h, nil
	}

	enc, _, err := zstdCodec()
	if err != nil {
		return "", fmt.Errorf("object write: zstd: %w", err)
	}
	envelope := append([]byte(fmt.Sprintf("%s %d\x00", objType, len(data))), data...)
	raw := enc.EncodeAll(envelope, nil)

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w", err)
	}
	if err := os.Rename(tmpName, s.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}
	return h, nil
}

// Read retrieves an object by hash, returning its type and raw content.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	if len(h) < 3 {
		return "", nil, fmt.Errorf("object read %q: %w", h, os.ErrNotExist)
	}
	raw, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		_, dec, err := zstdCodec()
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: zstd: %w", h, err)
		}
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: decompress: %w", h, err)
		}
	}

	// Parse envelope: "type len\0content"
	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: invalid format (no NUL)", h)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("object read %s: invalid header %q", h, header)
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: invalid length %q: %w", h, parts[1], err)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d)", h, length, len(content))
	}
	return ObjectType(parts[0]), content, nil
}

// ResolvePrefix expands an abbreviated object id to the single matching
// full id.
func (s *Store) ResolvePrefix(prefix string) (Hash, error) {
	if IsFullHash(prefix) {
		if s.Has(Hash(prefix)) {
			return Hash(prefix), nil
		}
		return "", fmt.Errorf("object %s: %w", prefix, os.ErrNotExist)
	}
	if !IsHashPrefix(prefix) {
		return "", fmt.Errorf("invalid object id prefix %q", prefix)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, "objects", prefix[:2]))
	if err != nil {
		return "", fmt.Errorf("object %s: %w", prefix, os.ErrNotExist)
	}
	var found Hash
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix[2:]) {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("object %s: %w", prefix, ErrAmbiguousPrefix)
		}
		found = Hash(prefix[:2] + name)
	}
	if found == "" {
		return "", fmt.Errorf("object %s: %w", prefix, os.ErrNotExist)
	}
	return found, nil
}

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return data, nil
}

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Write(TypeBlob, MarshalBlob(b))
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	data, err := s.readTyped(h, TypeBlob)
	if err != nil {
		return nil, err
	}
	return UnmarshalBlob(data)
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	return s.Write(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	data, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}
