package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

// Snapshot naming validation
var snapshotNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*[a-z0-9]$|^[a-z0-9]$`)

// Snapshot and sketch errors
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidName      = errors.New("invalid name: must be lowercase alphanumeric with hyphens")
	ErrSnapshotTooLarge = errors.New("snapshot exceeds size limit")
	ErrTooManySnapshots = errors.New("maximum number of snapshots reached")
	ErrSketchExists     = errors.New("sketch already exists")
	ErrSketchNotFound   = fmt.Errorf("sketch %w", ErrNotFound)
)

// ValidateName checks a sketch or snapshot name.
// Names must be lowercase alphanumeric with hyphens, no spaces or special chars.
func ValidateName(name string) error {
	if name == "" || len(name) > 128 {
		return ErrInvalidName
	}
	if !snapshotNameRegex.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// SketchInfo describes a named sketch.
type SketchInfo struct {
	Name        string `json:"name"`
	Precision   uint8  `json:"precision"`
	HashBits    uint8  `json:"hash_bits"`
	Buckets     uint32 `json:"buckets"`
	Added       uint64 `json:"added"`
	Cardinality uint64 `json:"cardinality"`
	MemoryBytes int    `json:"memory_bytes"`
}

// SnapshotMetadata describes a saved snapshot without the register data.
type SnapshotMetadata struct {
	// Name is the snapshot identifier, the name of the sketch it was taken from
	Name string `json:"name"`

	// Description is an optional user-provided description
	Description string `json:"description,omitempty"`

	// Created is when the snapshot was saved
	Created time.Time `json:"created"`

	// SizeBytes is the compressed file size
	SizeBytes int64 `json:"size_bytes"`

	// Cardinality is the estimate at save time
	Cardinality uint64 `json:"cardinality"`
}

// Snapshot is a persisted sketch.
type Snapshot struct {
	// Version is the snapshot format version
	Version int `json:"version"`

	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Created     time.Time      `json:"created"`
	Added       uint64         `json:"added"`
	Cardinality uint64         `json:"cardinality"`
	Sketch      *SerializedHLL `json:"sketch"`
}

// SerializedHLL contains HyperLogLog state for JSON serialization.
type SerializedHLL struct {
	Precision uint8  `json:"precision"`
	HashBits  uint8  `json:"hash_bits"`
	Registers string `json:"registers"` // base64-encoded
}

// MarshalHLL serializes an HLL to SerializedHLL.
func MarshalHLL(hll *hyperloglog.HyperLogLog) (*SerializedHLL, error) {
	if hll == nil {
		return nil, nil
	}

	data, err := hll.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return &SerializedHLL{
		Precision: data[0],
		HashBits:  data[1],
		Registers: base64.StdEncoding.EncodeToString(data[2:]),
	}, nil
}

// UnmarshalHLL deserializes a SerializedHLL to HyperLogLog.
func UnmarshalHLL(s *SerializedHLL) (*hyperloglog.HyperLogLog, error) {
	if s == nil {
		return nil, nil
	}

	registers, err := base64.StdEncoding.DecodeString(s.Registers)
	if err != nil {
		return nil, fmt.Errorf("%w: registers: %v", hyperloglog.ErrInvalidData, err)
	}

	// Reconstruct binary format: [precision:1byte][hashBits:1byte][registers:m bytes]
	data := make([]byte, 2+len(registers))
	data[0] = s.Precision
	data[1] = s.HashBits
	copy(data[2:], registers)

	return hyperloglog.FromBytes(data)
}
