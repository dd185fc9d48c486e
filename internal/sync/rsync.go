package sync

import (
	"bytes"
	"encoding/ascii85"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/mutagen-io/mutagen/pkg/synchronization/rsync"
)

// Wire forms of the rsync engine types. Both signature and delta travel as
// ascii85-wrapped JSON inside larger JSON payloads.

type wireBlockHash struct {
	Weak   uint32 `json:"weak"`
	Strong []byte `json:"strong"`
}

type wireSignature struct {
	BlockSize     uint64          `json:"block_size"`
	LastBlockSize uint64          `json:"last_block_size"`
	Hashes        []wireBlockHash `json:"hashes"`
}

type wireOperation struct {
	Data  []byte `json:"data,omitempty"`
	Start uint64 `json:"start"`
	Count uint64 `json:"count"`
}

// ComputeSignature builds the rolling/strong signature of a file's content.
func ComputeSignature(data []byte) (string, error) {
	engine := rsync.NewEngine()
	sig := engine.BytesSignature(data, 0)

	wire := wireSignature{
		BlockSize:     sig.BlockSize,
		LastBlockSize: sig.LastBlockSize,
		Hashes:        make([]wireBlockHash, 0, len(sig.Hashes)),
	}
	for _, h := range sig.Hashes {
		wire.Hashes = append(wire.Hashes, wireBlockHash{Weak: h.Weak, Strong: h.Strong})
	}
	return encodeWire(wire)
}

func decodeSignature(s string) (*rsync.Signature, error) {
	var wire wireSignature
	if err := decodeWire(s, &wire); err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	sig := &rsync.Signature{
		BlockSize:     wire.BlockSize,
		LastBlockSize: wire.LastBlockSize,
		Hashes:        make([]*rsync.BlockHash, 0, len(wire.Hashes)),
	}
	for _, h := range wire.Hashes {
		sig.Hashes = append(sig.Hashes, &rsync.BlockHash{Weak: h.Weak, Strong: h.Strong})
	}
	if err := sig.EnsureValid(); err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}

// ComputeDelta produces the delta that patches a file matching baseSig up to
// target.
func ComputeDelta(target []byte, baseSig string) (string, error) {
	sig, err := decodeSignature(baseSig)
	if err != nil {
		return "", err
	}

	engine := rsync.NewEngine()
	ops := engine.DeltifyBytes(target, sig, 0)

	wire := make([]wireOperation, 0, len(ops))
	for _, op := range ops {
		wire = append(wire, wireOperation{Data: op.Data, Start: op.Start, Count: op.Count})
	}
	return encodeWire(wire)
}

// ApplyDelta patches base (whose signature must equal baseSig) with a delta
// produced by ComputeDelta.
func ApplyDelta(base []byte, baseSig string, delta string) ([]byte, error) {
	sig, err := decodeSignature(baseSig)
	if err != nil {
		return nil, err
	}

	var wire []wireOperation
	if err := decodeWire(delta, &wire); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}

	ops := make([]*rsync.Operation, 0, len(wire))
	for _, op := range wire {
		ops = append(ops, &rsync.Operation{Data: op.Data, Start: op.Start, Count: op.Count})
	}

	engine := rsync.NewEngine()
	patched, err := engine.PatchBytes(base, sig, ops)
	if err != nil {
		return nil, fmt.Errorf("apply delta: %w", err)
	}
	return patched, nil
}

func encodeWire(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode wire: %w", err)
	}

	var buf bytes.Buffer
	enc := ascii85.NewEncoder(&buf)
	if _, err := enc.Write(data); err != nil {
		return "", fmt.Errorf("encode wire: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode wire: %w", err)
	}
	return buf.String(), nil
}

func decodeWire(s string, v any) error {
	dec := ascii85.NewDecoder(bytes.NewReader([]byte(s)))
	data, err := io.ReadAll(dec)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
