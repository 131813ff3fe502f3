// Package checksum computes content fingerprints for data files and persists
// the last fingerprint seen for each file in a record store.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

// chunkSize is the read size used when streaming content through the digest.
const chunkSize = 4096

// Fingerprint is the lowercase hex MD5 digest of a file's bytes. It depends on
// content only, never on path, size or modification time.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Compute streams r through the digest in fixed-size chunks.
func Compute(r io.Reader) (Fingerprint, error) {
	h := md5.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read content: %w", err)
		}
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// FromFile fingerprints the file at path on fsys.
func FromFile(fsys billy.Basic, path string) (Fingerprint, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fp, err := Compute(f)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return fp, nil
}
