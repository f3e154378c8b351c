package ua

import (
	"bytes"
	"testing"
)

func roundTripVariant(t *testing.T, v Variant) Variant {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.PutVariant(v)
	if err := enc.Err(); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := NewDecoder(&buf)
	got := dec.GetVariant()
	if err := dec.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestVariantRoundTripScalars(t *testing.T) {
	s := "hello"
	cases := []Variant{
		NewInt32(-42),
		NewDouble(3.14159),
		NewString("hello"),
		{Type: TypeBoolean, Bool: true},
		{Type: TypeByte, Byte: 200},
		{Type: TypeString, Str: nil}, // null string
		{Type: TypeString, Str: &s},
		NewNodeId(NewNumericNodeId(0, 85)),      // Objects folder
		NewNodeId(NewNumericNodeId(1, 100000)),  // forces full Numeric tag
		NewNodeId(NewStringNodeId(2, "a&b/c.d")),
	}
	for i, c := range cases {
		got := roundTripVariant(t, c)
		if got.Type != c.Type {
			t.Fatalf("case %d: type mismatch: got %v want %v", i, got.Type, c.Type)
		}
		switch c.Type {
		case TypeInt32:
			if got.Int32 != c.Int32 {
				t.Fatalf("case %d: got %v want %v", i, got.Int32, c.Int32)
			}
		case TypeDouble:
			if got.Double != c.Double {
				t.Fatalf("case %d: got %v want %v", i, got.Double, c.Double)
			}
		case TypeString:
			if (got.Str == nil) != (c.Str == nil) {
				t.Fatalf("case %d: null mismatch", i)
			}
			if got.Str != nil && *got.Str != *c.Str {
				t.Fatalf("case %d: got %v want %v", i, *got.Str, *c.Str)
			}
		case TypeNodeId:
			if !got.NodeIdVal.Equal(c.NodeIdVal) {
				t.Fatalf("case %d: nodeid mismatch: got %+v want %+v", i, got.NodeIdVal, c.NodeIdVal)
			}
		}
	}
}

func TestVariantRoundTripArray(t *testing.T) {
	v := Variant{
		Type:    TypeInt32,
		IsArray: true,
		Array:   []Variant{NewInt32(1), NewInt32(2), NewInt32(3)},
	}
	got := roundTripVariant(t, v)
	if !got.IsArray || len(got.Array) != 3 {
		t.Fatalf("array round trip failed: %+v", got)
	}
	for i, e := range got.Array {
		if e.Int32 != int32(i+1) {
			t.Fatalf("element %d: got %v", i, e.Int32)
		}
	}
}

func TestVariantRoundTripNullArray(t *testing.T) {
	v := Variant{Type: TypeInt32, IsArray: true, Array: nil}
	got := roundTripVariant(t, v)
	if !got.IsArray || got.Array != nil {
		t.Fatalf("expected null array round trip, got %+v", got)
	}
}

func TestVariantRoundTripMultiDimensional(t *testing.T) {
	v := Variant{
		Type:            TypeInt32,
		IsArray:         true,
		Array:           []Variant{NewInt32(1), NewInt32(2), NewInt32(3), NewInt32(4)},
		ArrayDimensions: []int32{2, 2},
	}
	got := roundTripVariant(t, v)
	if len(got.ArrayDimensions) != 2 || got.ArrayDimensions[0] != 2 || got.ArrayDimensions[1] != 2 {
		t.Fatalf("dimensions not preserved: %+v", got.ArrayDimensions)
	}
}

func TestNodeIdEqualityExactMatch(t *testing.T) {
	a := NewNumericNodeId(1, 42)
	b := NewNumericNodeId(1, 42)
	c := NewNumericNodeId(2, 42)
	if !a.Equal(b) {
		t.Fatal("expected equal")
	}
	if a.Equal(c) {
		t.Fatal("expected not equal across namespaces")
	}
}

func TestNullNodeId(t *testing.T) {
	if !NullNodeId.IsNull() {
		t.Fatal("NullNodeId should report IsNull")
	}
	if NewNumericNodeId(0, 1).IsNull() {
		t.Fatal("non-zero numeric id should not be null")
	}
}

func TestDateTimeZeroRoundTrip(t *testing.T) {
	ticks := DateTimeToTicks(TicksToDateTime(0))
	if ticks != 0 {
		t.Fatalf("zero date should round-trip to ticks 0, got %d", ticks)
	}
}

func TestExtensionObjectOpaquePreservesBytes(t *testing.T) {
	eo := &ExtensionObject{
		TypeId:   NewNumericNodeId(2, 9999),
		Encoding: ExtensionObjectByteString,
		Body:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.PutExtensionObject(eo)
	dec := NewDecoder(&buf)
	got := dec.GetExtensionObject()
	if !bytes.Equal(got.Body, eo.Body) {
		t.Fatalf("opaque body mismatch: got %x want %x", got.Body, eo.Body)
	}
	if !got.TypeId.Equal(eo.TypeId) {
		t.Fatalf("typeid mismatch")
	}
}
