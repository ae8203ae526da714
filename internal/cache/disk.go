package cache

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic opens every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// envelope is the on-disk form of a payload.
type envelope[T any] struct {
	Kind    string
	Version int
	Body    T
}

// FileName returns the path of the store for key inside dir.
func FileName(dir, key string) string {
	// Use SHA256 hash of key for filename
	hash := sha256.Sum256([]byte(key))
	filename := hex.EncodeToString(hash[:16]) + ".cache"
	return filepath.Join(dir, filename)
}

func encodeEnvelope[T any](w io.Writer, env envelope[T], level int) error {
	if level <= 0 {
		return gob.NewEncoder(w).Encode(env)
	}

	zw, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(env); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// decodeEnvelope reads one envelope from r, transparently decompressing it
// when the stream starts with a zstd frame.
func decodeEnvelope[T any](r io.Reader) (envelope[T], error) {
	var env envelope[T]

	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return env, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	if err := gob.NewDecoder(src).Decode(&env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return env, nil
}

func writeFile(path string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write to temp file first, then rename (atomic on most systems)
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(file.Name())
		}
	}()

	_, err = file.Write(data)
	closeErr := file.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	return os.Rename(file.Name(), path)
}
