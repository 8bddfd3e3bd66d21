package artifact

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Encoded is a file payload prepared for inline transport: gzip-compressed,
// base64-encoded, with an MD5 of the original bytes for integrity checks.
type Encoded struct {
	Base64 string
	MD5    string
}

// EncodeFile reads path and returns its compressed inline representation.
func EncodeFile(path string) (Encoded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Encoded{}, fmt.Errorf("read %s: %w", path, err)
	}

	sum := md5.Sum(data)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return Encoded{}, fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return Encoded{}, fmt.Errorf("compress %s: %w", path, err)
	}

	return Encoded{
		Base64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MD5:    hex.EncodeToString(sum[:]),
	}, nil
}

// DecodeToFile reverses EncodeFile, writing the decompressed bytes to dst.
// Parent directories are created as needed.
func DecodeToFile(encoded string, dst string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode blob for %s: %w", dst, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decompress blob for %s: %w", dst, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompress blob for %s: %w", dst, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", dst, err)
	}
	return nil
}
