package regiondata

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/udisondev/regionsys/internal/region"
)

// ErrCorrupt is returned when a snapshot cannot be decoded or its body does
// not match its digest.
var ErrCorrupt = errors.New("snapshot digest mismatch")

// Header is the first line of a snapshot file.
type Header struct {
	Version    int    `json:"version"`
	Generation uint64 `json:"generation"`
	Tick       uint64 `json:"tick"`
	Regions    int    `json:"regions"`
	Digest     string `json:"digest"`
}

// Digest returns the hex BLAKE2b-256 of the canonical JSON of doc.
func Digest(doc Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return digestOf(body), nil
}

func digestOf(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SaveSnapshot writes the regions of s as a zstd-compressed file: a JSON
// header line followed by the JSON document.
func SaveSnapshot(path string, s *region.Snapshot) (Header, error) {
	doc, err := Export(s)
	if err != nil {
		return Header{}, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Header{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	h := Header{
		Version:    Version,
		Generation: s.Generation(),
		Tick:       s.Tick(),
		Regions:    len(doc.Regions),
		Digest:     digestOf(body),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Header{}, fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := writeSnapshot(tmp, h, body); err != nil {
		_ = os.Remove(tmp)
		return Header{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return Header{}, fmt.Errorf("replacing snapshot: %w", err)
	}
	return h, nil
}

func writeSnapshot(path string, h Header, body []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	bw := bufio.NewWriter(enc)
	hb, _ := json.Marshal(h)
	bw.Write(hb)
	bw.WriteByte('\n')
	bw.Write(body)
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return f.Sync()
}

// LoadSnapshot reads a snapshot file and verifies its digest.
func LoadSnapshot(path string) (Header, Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, Document{}, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, Document{}, fmt.Errorf("%w: creating zstd reader: %w", ErrCorrupt, err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return Header{}, Document{}, fmt.Errorf("%w: reading snapshot header: %w", ErrCorrupt, err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return Header{}, Document{}, fmt.Errorf("%w: decoding snapshot header: %w", ErrCorrupt, err)
	}
	if h.Version != Version {
		return Header{}, Document{}, fmt.Errorf("snapshot version %d: unsupported", h.Version)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return Header{}, Document{}, fmt.Errorf("%w: reading snapshot body: %w", ErrCorrupt, err)
	}
	if got := digestOf(body); got != h.Digest {
		return Header{}, Document{}, fmt.Errorf("%w: header %s, body %s", ErrCorrupt, h.Digest, got)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Header{}, Document{}, fmt.Errorf("%w: decoding snapshot body: %w", ErrCorrupt, err)
	}
	return h, doc, nil
}
