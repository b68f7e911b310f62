package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidArgument, "direction must be inbound or outbound")
		if err.Code != ErrCodeInvalidArgument {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidArgument)
		}
		if err.Category != CategoryArgument {
			t.Errorf("Category = %v, want %v", err.Category, CategoryArgument)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
		if err.HTTPStatus != 400 {
			t.Errorf("HTTPStatus = %d, want 400", err.HTTPStatus)
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeArchiveUpload, "upload failed").Retryable {
			t.Error("ArchiveUpload should be retryable by default")
		}
		if NewError(ErrCodeInvalidArgument, "bad").Retryable {
			t.Error("InvalidArgument should not be retryable by default")
		}
	})

	t.Run("categorizes codes", func(t *testing.T) {
		tests := []struct {
			code ErrorCode
			want ErrorCategory
		}{
			{ErrCodeConfigLoad, CategoryConfiguration},
			{ErrCodeSnapshotWrite, CategoryPersistence},
			{ErrCodeServerStart, CategoryExport},
			{ErrCodeProbeFailed, CategoryProbe},
			{ErrCodeShutdownTimeout, CategoryState},
			{ErrCodeNetworkError, CategoryConnection},
			{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
		}
		for _, tt := range tests {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
			}
		}
	})
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeSnapshotWrite, "write failed").
		WithComponent("snapshot").
		WithOperation("write").
		WithCause(fmt.Errorf("disk full"))

	msg := err.Error()
	if !strings.Contains(msg, "[snapshot:write]") {
		t.Errorf("Error() = %q, want component and operation prefix", msg)
	}
	if !strings.HasSuffix(msg, "disk full") {
		t.Errorf("Error() = %q, want cause suffix", msg)
	}

	detailed := err.WithDetail("path", "/tmp/x").String()
	if !strings.Contains(detailed, `Details={"path":"/tmp/x"}`) {
		t.Errorf("String() = %q, want details", detailed)
	}
}

func TestErrorMatching(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("permission denied")
	err := Wrap(cause, ErrCodeSnapshotWrite, "cannot create file")
	wrapped := fmt.Errorf("tick: %w", err)

	if !errors.Is(wrapped, NewError(ErrCodeSnapshotWrite, "")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(wrapped, NewError(ErrCodeArchiveUpload, "")) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !HasCode(wrapped, ErrCodeSnapshotWrite) {
		t.Error("HasCode should find the wrapped code")
	}
	if HasCode(cause, ErrCodeSnapshotWrite) {
		t.Error("HasCode should not match a plain error")
	}

	var pe *PerfMetricsError
	if !errors.As(wrapped, &pe) || pe.Code != ErrCodeSnapshotWrite {
		t.Error("errors.As should extract the structured error")
	}
}
