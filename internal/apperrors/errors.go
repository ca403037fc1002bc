// Package apperrors defines the stable error taxonomy shared across every
// WARP subsystem. Each error carries a fixed Code so callers can branch on
// `errors.As` without parsing message strings.
package apperrors

import (
	"fmt"
)

// Code is a stable identifier for a category of failure. Codes are never
// renamed once published; new failure modes get new codes.
type Code string

const (
	// Validation
	CodeInvalidGraphName Code = "INVALID_GRAPH_NAME"
	CodeInvalidWriterID  Code = "INVALID_WRITER_ID"
	CodeInvalidOID       Code = "INVALID_OID"
	CodeInvalidRef       Code = "INVALID_REF"
	CodeInvalidLimit     Code = "INVALID_LIMIT"
	CodeInvalidConfigKey Code = "INVALID_CONFIG_KEY"
	CodeInvalidPattern   Code = "INVALID_PATTERN"
	CodeOutOfScope       Code = "OUT_OF_SCOPE"

	// CRDT / Patch
	CodeEmptyPatch         Code = "EMPTY_PATCH"
	CodeWriterRefAdvanced  Code = "WRITER_REF_ADVANCED"
	CodePersistWriteFailed Code = "PERSIST_WRITE_FAILED"
	CodeStaleState         Code = "E_STALE_STATE"
	CodeNoState            Code = "E_NO_STATE"

	// Materialization
	CodeBackfillRejected   Code = "BACKFILL_REJECTED"
	CodeWriterForkDetected Code = "WRITER_FORK_DETECTED"
	CodeMalformedPatch     Code = "MALFORMED_PATCH"
	CodeStateHashMismatch  Code = "STATE_HASH_MISMATCH"

	// Index
	CodeShardLoadError       Code = "SHARD_LOAD_ERROR"
	CodeShardCorruptionError Code = "SHARD_CORRUPTION_ERROR"
	CodeShardValidationError Code = "SHARD_VALIDATION_ERROR"

	// Sync
	CodeSyncRemoteURL Code = "E_SYNC_REMOTE_URL"
	CodeSyncTimeout   Code = "E_SYNC_TIMEOUT"
	CodeSyncHTTP      Code = "E_SYNC_HTTP"

	// Fork / Wormhole
	CodeForkWriterNotFound    Code = "E_FORK_WRITER_NOT_FOUND"
	CodeForkPatchNotFound     Code = "E_FORK_PATCH_NOT_FOUND"
	CodeForkPatchNotInChain   Code = "E_FORK_PATCH_NOT_IN_CHAIN"
	CodeForkNameInvalid       Code = "E_FORK_NAME_INVALID"
	CodeForkAlreadyExists     Code = "E_FORK_ALREADY_EXISTS"
	CodeWormholeSHANotFound   Code = "E_WORMHOLE_SHA_NOT_FOUND"
	CodeWormholeInvalidRange  Code = "E_WORMHOLE_INVALID_RANGE"
	CodeWormholeMultiWriter   Code = "E_WORMHOLE_MULTI_WRITER"
	CodeWormholeNotPatch      Code = "E_WORMHOLE_NOT_PATCH"

	// Concurrency
	CodeOperationAborted Code = "OPERATION_ABORTED"
)

// Category buckets codes for coarse-grained handling (retry policy, alerting).
type Category int

const (
	CategoryValidation Category = iota
	CategoryCRDT
	CategoryMaterialization
	CategoryIndex
	CategorySync
	CategoryTopology
	CategoryConcurrency
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryCRDT:
		return "crdt"
	case CategoryMaterialization:
		return "materialization"
	case CategoryIndex:
		return "index"
	case CategorySync:
		return "sync"
	case CategoryTopology:
		return "topology"
	case CategoryConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Error is a structured WARP error: a stable code, a category, optional
// context for logging, and an optional wrapped cause.
type Error struct {
	Code     Code
	Category Category
	Message  string
	Context  map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by Code so `errors.Is(err, apperrors.New(CodeEmptyPatch, ""))`
// style sentinels work without comparing messages or context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext attaches a key/value pair used for logging, not for control flow.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 4)
	}
	e.Context[key] = value
	return e
}

func categoryFor(code Code) Category {
	switch code {
	case CodeInvalidGraphName, CodeInvalidWriterID, CodeInvalidOID, CodeInvalidRef, CodeInvalidLimit, CodeInvalidConfigKey, CodeInvalidPattern, CodeOutOfScope:
		return CategoryValidation
	case CodeEmptyPatch, CodeWriterRefAdvanced, CodePersistWriteFailed, CodeStaleState, CodeNoState:
		return CategoryCRDT
	case CodeBackfillRejected, CodeWriterForkDetected, CodeMalformedPatch, CodeStateHashMismatch:
		return CategoryMaterialization
	case CodeShardLoadError, CodeShardCorruptionError, CodeShardValidationError:
		return CategoryIndex
	case CodeSyncRemoteURL, CodeSyncTimeout, CodeSyncHTTP:
		return CategorySync
	case CodeForkWriterNotFound, CodeForkPatchNotFound, CodeForkPatchNotInChain, CodeForkNameInvalid,
		CodeForkAlreadyExists, CodeWormholeSHANotFound, CodeWormholeInvalidRange, CodeWormholeMultiWriter, CodeWormholeNotPatch:
		return CategoryTopology
	case CodeOperationAborted:
		return CategoryConcurrency
	default:
		return CategoryCRDT
	}
}

// New builds an *Error with its category derived from the code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Category: categoryFor(code), Message: message}
}

// Wrap builds an *Error around a cause, preserving it for errors.Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Category: categoryFor(code), Message: message, Cause: cause}
}
