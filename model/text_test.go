package model

import (
	"bytes"
	"testing"
)

func TestNewTextStringASCIIStaysLiteral(t *testing.T) {
	s, err := NewTextString("Hello, world")
	if err != nil {
		t.Fatalf("NewTextString() error = %v", err)
	}
	if s.Format != LiteralString {
		t.Fatalf("ASCII input should stay a literal string, got format %v", s.Format)
	}
	if !bytes.Equal(s.Value, []byte("Hello, world")) {
		t.Fatalf("Value = %q, want %q", s.Value, "Hello, world")
	}
}

func TestNewTextStringNonASCIIUsesUTF16BOM(t *testing.T) {
	s, err := NewTextString("café")
	if err != nil {
		t.Fatalf("NewTextString() error = %v", err)
	}
	if s.Format != LiteralString {
		t.Fatalf("encoded text is still written as a literal string, got format %v", s.Format)
	}
	if len(s.Value) < 2 || s.Value[0] != 0xFE || s.Value[1] != 0xFF {
		t.Fatalf("expected a UTF-16BE byte-order mark, got % x", s.Value)
	}
}

func TestNewTextStringEmpty(t *testing.T) {
	s, err := NewTextString("")
	if err != nil {
		t.Fatalf("NewTextString() error = %v", err)
	}
	if len(s.Value) != 0 {
		t.Fatalf("Value = %q, want empty", s.Value)
	}
}
