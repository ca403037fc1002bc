package objectstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/warpdb/warp/internal/apperrors"
)

// Ref layout (spec §3):
//   refs/warp/<graph>/writers/<writerId>
//   refs/warp/<graph>/checkpoints/head
//   refs/warp/<graph>/coverage/head

// WriterRef returns the ref tracking writer's patch-chain tip within graph.
func WriterRef(graph, writer string) string {
	return fmt.Sprintf("refs/warp/%s/writers/%s", graph, writer)
}

// CheckpointsHeadRef returns the ref tracking the latest checkpoint.
func CheckpointsHeadRef(graph string) string {
	return fmt.Sprintf("refs/warp/%s/checkpoints/head", graph)
}

// CoverageHeadRef returns the ref tracking the anchor commit, if any.
func CoverageHeadRef(graph string) string {
	return fmt.Sprintf("refs/warp/%s/coverage/head", graph)
}

// WritersPrefix returns the ref prefix under which every writer ref for
// graph lives, for use with Store.ListRefs.
func WritersPrefix(graph string) string {
	return fmt.Sprintf("refs/warp/%s/writers/", graph)
}

var (
	// graphNameRe matches the ref-safe grammar: alphanumeric plus `._-`, no
	// leading `-`.
	graphNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	// writerIDRe is the same grammar, additionally forbidding `/`.
	writerIDRe = graphNameRe
	oidRe      = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)
	// refRe is the conservative grammar from spec §6: letters, digits,
	// `._/-`, no leading `-`, no `;`, no `..`, plus `^~` allowed only on
	// read-path ancestry operators (checked separately).
	refRe = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

// ValidateGraphName enforces the ref-safe grammar plus a path-traversal ban.
func ValidateGraphName(name string) error {
	if name == "" || !graphNameRe.MatchString(name) {
		return apperrors.New(apperrors.CodeInvalidGraphName, fmt.Sprintf("invalid graph name %q", name))
	}
	if strings.Contains(name, "..") {
		return apperrors.New(apperrors.CodeInvalidGraphName, fmt.Sprintf("graph name %q contains path traversal", name))
	}
	return nil
}

// ValidateWriterID enforces the ref-safe grammar with no `/`.
func ValidateWriterID(id string) error {
	if id == "" || !writerIDRe.MatchString(id) || strings.Contains(id, "/") {
		return apperrors.New(apperrors.CodeInvalidWriterID, fmt.Sprintf("invalid writer id %q", id))
	}
	return nil
}

// ValidateOID checks the 4-64 char hex grammar spec §6 requires.
func ValidateOID(oid string) error {
	if !oidRe.MatchString(oid) {
		return apperrors.New(apperrors.CodeInvalidOID, fmt.Sprintf("invalid oid %q", oid))
	}
	return nil
}

// ValidateRef checks the conservative ref grammar: no leading `-`, no `;`,
// no `..`, and only `[A-Za-z0-9._/-]` (ancestry operators `^`/`~` are valid
// only on read paths and are checked by callers that accept them
// explicitly, not here).
func ValidateRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "-") || strings.Contains(ref, ";") || strings.Contains(ref, "..") {
		return apperrors.New(apperrors.CodeInvalidRef, fmt.Sprintf("invalid ref %q", ref))
	}
	if !refRe.MatchString(ref) {
		return apperrors.New(apperrors.CodeInvalidRef, fmt.Sprintf("invalid ref %q", ref))
	}
	return nil
}
