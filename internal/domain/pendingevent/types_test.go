package pendingevent

import (
	"errors"
	"testing"
	"time"
)

func TestStoredEvent_Validate(t *testing.T) {
	t.Parallel()

	validExecution := StoredEvent{
		Kind: KindExecution,
		Execution: &ExecutionEvent{
			FileSHA256: "a1b2",
			FilePath:   "/usr/bin/evil",
			OccurredAt: time.Now(),
			Decision:   "Block",
		},
	}
	if err := validExecution.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	missingFields := StoredEvent{Kind: KindExecution, Execution: &ExecutionEvent{FileSHA256: "a1b2"}}
	if err := missingFields.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want wrapping ErrValidation", err)
	}

	nilPayload := StoredEvent{Kind: KindExecution}
	if err := nilPayload.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() with nil payload error = %v, want wrapping ErrValidation", err)
	}

	validFileAccess := StoredEvent{
		Kind: KindFileAccess,
		FileAccess: &FileAccessEvent{
			RuleName:          "protect_ssh",
			RuleVersion:       "1",
			AccessedPath:      "/etc/ssh/sshd_config",
			SubjectFileSHA256: "deadbeef",
			Decision:          "Deny",
		},
	}
	if err := validFileAccess.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	unrecognizedKind := StoredEvent{Kind: Kind("bogus")}
	if err := unrecognizedKind.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() with unrecognized kind error = %v, want wrapping ErrValidation", err)
	}
}

func TestComputeUniqueID(t *testing.T) {
	t.Parallel()

	execEvent := StoredEvent{Kind: KindExecution, Execution: &ExecutionEvent{FileSHA256: "deadbeef"}}
	id, err := ComputeUniqueID(execEvent)
	if err != nil {
		t.Fatalf("ComputeUniqueID() error = %v", err)
	}
	if id != "deadbeef" {
		t.Fatalf("ComputeUniqueID() = %q, want the raw file SHA-256 %q", id, "deadbeef")
	}

	fileAccessEvent := StoredEvent{
		Kind: KindFileAccess,
		FileAccess: &FileAccessEvent{
			RuleName:          "protect_ssh",
			AccessedPath:      "/etc/ssh/sshd_config",
			SubjectFileSHA256: "deadbeef",
		},
	}
	id1, err := ComputeUniqueID(fileAccessEvent)
	if err != nil {
		t.Fatalf("ComputeUniqueID() error = %v", err)
	}
	if len(id1) != 64 {
		t.Fatalf("ComputeUniqueID() = %q, want a 64-char hex SHA-256 digest", id1)
	}

	id2, err := ComputeUniqueID(fileAccessEvent)
	if err != nil {
		t.Fatalf("ComputeUniqueID() error = %v", err)
	}
	if id1 != id2 {
		t.Fatal("ComputeUniqueID() is not deterministic for identical input")
	}

	differentPath := fileAccessEvent
	differentPath.FileAccess = &FileAccessEvent{
		RuleName:          "protect_ssh",
		AccessedPath:      "/etc/sudoers",
		SubjectFileSHA256: "deadbeef",
	}
	id3, err := ComputeUniqueID(differentPath)
	if err != nil {
		t.Fatalf("ComputeUniqueID() error = %v", err)
	}
	if id1 == id3 {
		t.Fatal("ComputeUniqueID() collided for file-access events with different accessed paths")
	}
}
