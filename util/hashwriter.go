// Package util holds small helpers shared by the storage packages.
package util

import (
	"bytes"
	"crypto/md5"
	"hash"
	"io"
)

// MD5Writer wraps an io.Writer and computes the MD5 checksum of the bytes
// written through it. The checksum is used to fingerprint stored payloads.
type MD5Writer struct {
	io.Writer
	md5 hash.Hash
}

// NewMD5Writer returns an MD5Writer wrapping w.
func NewMD5Writer(w io.Writer) *MD5Writer {
	hw := &MD5Writer{md5: md5.New()}
	hw.Writer = io.MultiWriter(w, hw.md5)
	return hw
}

// Sum returns the MD5 checksum of everything written so far.
func (hw *MD5Writer) Sum() []byte {
	return hw.md5.Sum(nil)
}

// Check compares the checksum of everything written so far against goal.
// An empty goal is treated as matching.
func (hw *MD5Writer) Check(goal []byte) ([]byte, bool) {
	computed := hw.md5.Sum(nil)
	ok := len(goal) == 0 || bytes.Equal(goal, computed)
	return computed, ok
}
