package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown error"},
		{KindNotFound, "not found"},
		{KindBadRequest, "bad request"},
		{KindUnknownMessageType, "unknown message type"},
		{KindCorruptState, "corrupt state"},
		{KindIO, "I/O error"},
		{KindSingletonConflict, "singleton conflict"},
		{Kind(999), "unknown error"}, // Unknown kind
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKind_WireName(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNotFound, "NotFound"},
		{KindBadRequest, "BadRequest"},
		{KindUnknownMessageType, "UnknownMessageType"},
		{KindCorruptState, "CorruptStateError"},
		{KindIO, "IOError"},
		{KindSingletonConflict, "SingletonConflict"},
		{KindUnknown, "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.WireName(); got != tt.expected {
				t.Errorf("Kind.WireName() = %q, want %q", got, tt.expected)
			}
			if tt.kind == KindUnknown {
				return
			}
			if got := KindFromWireName(tt.expected); got != tt.kind {
				t.Errorf("KindFromWireName(%q) = %v, want %v", tt.expected, got, tt.kind)
			}
		})
	}

	if got := KindFromWireName("Bogus"); got != KindUnknown {
		t.Errorf("KindFromWireName(Bogus) = %v, want KindUnknown", got)
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with op and context",
			err:      &Error{Op: "test.Op", Context: "some context", Err: errors.New("underlying error")},
			expected: "test.Op: some context: underlying error",
		},
		{
			name:     "with op only",
			err:      &Error{Op: "test.Op", Err: errors.New("underlying error")},
			expected: "test.Op: underlying error",
		},
		{
			name:     "without op",
			err:      &Error{Err: errors.New("underlying error")},
			expected: "underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestE_ContextOnly(t *testing.T) {
	err := E(Op("test.Op"), KindBadRequest, "just context")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.Context != "" {
		t.Errorf("Context = %q, want empty (moved into Err)", e.Context)
	}
	if e.Err.Error() != "just context" {
		t.Errorf("Err = %q, want 'just context'", e.Err)
	}
}

func TestGetKind_Wrapped(t *testing.T) {
	inner := SessionNotFound("s9")
	wrapped := fmt.Errorf("dispatch: %w", inner)

	if !Is(wrapped, KindNotFound) {
		t.Errorf("Is(wrapped, KindNotFound) = false, want true")
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Error("plain errors should have KindUnknown")
	}
}

func TestGetKind_NestedUnknownOuter(t *testing.T) {
	inner := SaveFailed("/tmp/x.jsonl", errors.New("disk full"))
	outer := E(Op("state.Create"), inner)

	if got := GetKind(outer); got != KindIO {
		t.Errorf("GetKind() = %v, want KindIO", got)
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		contains string
	}{
		{"session not found", SessionNotFound("s1"), KindNotFound, "session s1 not found"},
		{"backlog not found", BacklogNotFound("b2"), KindNotFound, "backlog item b2 not found"},
		{"missing field", MissingField("server.createSession", "project"), KindBadRequest, `"project"`},
		{"unknown type", UnknownMessageType("frobnicate"), KindUnknownMessageType, "frobnicate"},
		{"singleton", SingletonConflict("/tmp/s.sock"), KindSingletonConflict, "/tmp/s.sock"},
		{"load", LoadFailed("/tmp/a", errors.New("boom")), KindIO, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetKind(tt.err); got != tt.kind {
				t.Errorf("GetKind() = %v, want %v", got, tt.kind)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}
