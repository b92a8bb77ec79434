package engine

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"sync"
)

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 128 * 1024
	hashLargeBufferThreshold = 256 * 1024
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

// Fingerprint returns the lowercase hex MD5 of the file content and its size.
// The error is a *HashError when the file cannot be opened or read.
func Fingerprint(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, &HashError{Path: path, Err: err}
	}
	defer file.Close()

	bufferPool := &hashBufferSmallPool
	if info, statErr := file.Stat(); statErr == nil && info.Size() >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)

	h := md5.New()
	n, err := io.CopyBuffer(h, file, *bufferPtr)
	if err != nil {
		return "", 0, &HashError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
