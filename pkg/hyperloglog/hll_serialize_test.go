package hyperloglog

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalUnmarshal(t *testing.T) {
	hll := mustNew(t, 14)
	addAll(t, hll, uniformHashes(12, 1000))

	original := hll.Estimate()

	data, err := hll.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	// Expected size: 1 byte precision + 1 byte hash width + 16384 bytes registers
	expectedSize := 2 + 16384
	if len(data) != expectedSize {
		t.Errorf("MarshalBinary() size = %d, want %d", len(data), expectedSize)
	}

	hll2 := &HyperLogLog{}
	if err := hll2.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}

	if got := hll2.Estimate(); got != original {
		t.Errorf("After unmarshal, Estimate() = %+v, want %+v", got, original)
	}
	if hll2.precision != 14 || hll2.hashBits != DefaultHashBits {
		t.Errorf("After unmarshal, precision/hashBits = %d/%d, want 14/%d", hll2.precision, hll2.hashBits, DefaultHashBits)
	}
	if !bytes.Equal(hll.registers, hll2.registers) {
		t.Error("Registers don't match after unmarshal")
	}
}

func TestFromBytes(t *testing.T) {
	original, err := NewWithHashBits(12, 40)
	if err != nil {
		t.Fatal(err)
	}
	addAll(t, original, uniformHashes(13, 500))

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	restored, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}

	if restored.HashBits() != 40 {
		t.Errorf("FromBytes() hash bits = %d, want 40", restored.HashBits())
	}
	if restored.Cardinality() != original.Cardinality() {
		t.Errorf("FromBytes() cardinality = %d, want %d", restored.Cardinality(), original.Cardinality())
	}
}

func TestUnmarshalBinary_InvalidData(t *testing.T) {
	oversized := make([]byte, 2+16)
	oversized[0], oversized[1] = 4, 31
	oversized[5] = 32

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"too short", []byte{14}},
		{"invalid precision", []byte{1, 31, 0, 0}},
		{"invalid hash width", []byte{4, 4, 0, 0}},
		{"wrong size", []byte{14, 31, 0, 0}}, // precision 14 needs 16386 bytes total
		{"rank beyond hash width", oversized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hll := &HyperLogLog{}
			err := hll.UnmarshalBinary(tt.data)
			if !errors.Is(err, ErrInvalidData) {
				t.Errorf("UnmarshalBinary() error = %v, want ErrInvalidData", err)
			}
		})
	}
}

func TestSerializeEmpty(t *testing.T) {
	hll := mustNew(t, 10)

	data, err := hll.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	restored, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}

	if restored.Cardinality() != 0 {
		t.Errorf("Empty HLL after restore, Cardinality() = %d, want 0", restored.Cardinality())
	}
}

func TestSerializeThenMerge(t *testing.T) {
	hashes := uniformHashes(14, 200)

	hll1 := mustNew(t, 14)
	hll2 := mustNew(t, 14)
	union := mustNew(t, 14)
	addAll(t, hll1, hashes[:100])
	addAll(t, hll2, hashes[100:])
	addAll(t, union, hashes)

	data, err := hll1.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	restored, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}

	if err := restored.Merge(hll2); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if restored.Cardinality() != union.Cardinality() {
		t.Errorf("After merge, Cardinality() = %d, want %d", restored.Cardinality(), union.Cardinality())
	}
}

func BenchmarkMarshalBinary(b *testing.B) {
	hll := MustNew(14)
	for _, v := range uniformHashes(1, 10000) {
		_ = hll.Add(v)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = hll.MarshalBinary()
	}
}

func BenchmarkUnmarshalBinary(b *testing.B) {
	hll := MustNew(14)
	for _, v := range uniformHashes(1, 10000) {
		_ = hll.Add(v)
	}

	data, _ := hll.MarshalBinary()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h := &HyperLogLog{}
		_ = h.UnmarshalBinary(data)
	}
}
