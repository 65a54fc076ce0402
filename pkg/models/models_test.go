package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "my-sketch", false},
		{"valid single char", "a", false},
		{"valid with numbers", "test123", false},
		{"valid with hyphens", "pre-deploy-2024", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 129)), true},
		{"uppercase", "MySketch", true},
		{"spaces", "my sketch", true},
		{"underscore", "my_sketch", true},
		{"starts with hyphen", "-sketch", true},
		{"ends with hyphen", "sketch-", true},
		{"path traversal", "../etc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSerializedHLL_RoundTrip(t *testing.T) {
	hll := hyperloglog.MustNew(14)
	for _, h := range []uint64{0x1234567, 0x2345678, 0x3456789, 0x1234567, 0x7FFFFFF0} {
		if err := hll.Add(h); err != nil {
			t.Fatalf("Add(%#x) failed: %v", h, err)
		}
	}
	originalEstimate := hll.Cardinality()

	serialized, err := MarshalHLL(hll)
	if err != nil {
		t.Fatalf("MarshalHLL failed: %v", err)
	}
	if serialized.Precision != 14 || serialized.HashBits != 31 {
		t.Errorf("expected precision 14 over 31 bits, got %d over %d", serialized.Precision, serialized.HashBits)
	}

	restored, err := UnmarshalHLL(serialized)
	if err != nil {
		t.Fatalf("UnmarshalHLL failed: %v", err)
	}
	if got := restored.Cardinality(); got != originalEstimate {
		t.Errorf("estimate mismatch: original=%d, restored=%d", originalEstimate, got)
	}
}

func TestSerializedHLL_Nil(t *testing.T) {
	s, err := MarshalHLL(nil)
	if err != nil || s != nil {
		t.Errorf("MarshalHLL(nil) = %v, %v; want nil, nil", s, err)
	}

	h, err := UnmarshalHLL(nil)
	if err != nil || h != nil {
		t.Errorf("UnmarshalHLL(nil) = %v, %v; want nil, nil", h, err)
	}
}

func TestUnmarshalHLL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   *SerializedHLL
	}{
		{"bad base64", &SerializedHLL{Precision: 4, HashBits: 31, Registers: "!!"}},
		{"short registers", &SerializedHLL{Precision: 4, HashBits: 31, Registers: "AAAA"}},
		{"bad precision", &SerializedHLL{Precision: 40, HashBits: 31}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalHLL(tt.in); !errors.Is(err, hyperloglog.ErrInvalidData) {
				t.Errorf("expected ErrInvalidData, got %v", err)
			}
		})
	}
}

func TestParseField(t *testing.T) {
	for _, f := range Fields() {
		got, err := ParseField(string(f))
		if err != nil || got != f {
			t.Errorf("ParseField(%q) = %q, %v", f, got, err)
		}
	}

	if got, err := ParseField(" USER_INT "); err != nil || got != FieldUserInt {
		t.Errorf("ParseField should normalize case and space, got %q, %v", got, err)
	}
	if _, err := ParseField("created"); !errors.Is(err, ErrUnsupportedField) {
		t.Errorf("expected ErrUnsupportedField, got %v", err)
	}
}

func TestFieldValueAndBound(t *testing.T) {
	s := &Session{
		UserUUID: uuid.MustParse("00000000-0000-0000-0000-00000000002a"),
		UserInt:  42,
		UserStr:  "42-00000000-0000-0000-0000-00000000002a",
		UserHash: 1773006873,
	}

	tests := []struct {
		field  Field
		raw    string
		atMost bool
	}{
		{FieldUserInt, "42", true},
		{FieldUserInt, "41", false},
		{FieldUserHash, "2000000000", true},
		{FieldUserUUID, "00000000-0000-0000-0000-00000000002A", true},
		{FieldUserUUID, "00000000-0000-0000-0000-000000000029", false},
		// Bytewise: "42-..." sorts after "4-..." and before "5".
		{FieldUserStr, "5", true},
		{FieldUserStr, "4-", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.field)+"<="+tt.raw, func(t *testing.T) {
			bound, err := tt.field.ParseBound(tt.raw)
			if err != nil {
				t.Fatalf("ParseBound failed: %v", err)
			}
			got, err := tt.field.AtMost(s, bound)
			if err != nil {
				t.Fatalf("AtMost failed: %v", err)
			}
			if got != tt.atMost {
				t.Errorf("AtMost = %v, want %v", got, tt.atMost)
			}
		})
	}

	if _, err := FieldUserInt.ParseBound("abc"); !errors.Is(err, ErrInvalidBound) {
		t.Errorf("expected ErrInvalidBound, got %v", err)
	}
	if _, err := FieldUserUUID.ParseBound("not-a-uuid"); !errors.Is(err, ErrInvalidBound) {
		t.Errorf("expected ErrInvalidBound, got %v", err)
	}
	if _, err := FieldUserInt.AtMost(s, "42"); !errors.Is(err, ErrInvalidBound) {
		t.Errorf("expected ErrInvalidBound for mistyped bound, got %v", err)
	}
}

func TestCardinalityQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   CardinalityQuery
		wantErr error
	}{
		{"valid", CardinalityQuery{Field: FieldUserStr, Precision: 10}, nil},
		{"valid prehashed", CardinalityQuery{Field: FieldUserHash, Precision: 18, PreHashed: true}, nil},
		{"unknown field", CardinalityQuery{Field: "created", Precision: 10}, ErrUnsupportedField},
		{"precision too small", CardinalityQuery{Field: FieldUserInt, Precision: 3}, hyperloglog.ErrInvalidPrecision},
		{"precision too large", CardinalityQuery{Field: FieldUserInt, Precision: 19}, hyperloglog.ErrInvalidPrecision},
		{"prehashed string", CardinalityQuery{Field: FieldUserStr, Precision: 10, PreHashed: true}, ErrUnsupportedField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDateKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("west", -2*3600))
	if got := DateKey(ts); got != "2024-03-02" {
		t.Errorf("DateKey = %q, want 2024-03-02", got)
	}
}
