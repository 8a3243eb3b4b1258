package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// worktreeBoundaryRule blocks paths that escape the run's working tree:
// absolute paths, parent traversal, and anything that resolves outside the
// worktree root.
type worktreeBoundaryRule struct{}

func (worktreeBoundaryRule) ID() string { return "worktree_boundary" }

func (worktreeBoundaryRule) Evaluate(tool string, args map[string]interface{}, execCtx ExecContext) *Decision {
	for _, key := range pathArgNames {
		raw, ok := stringArg(args, key)
		if !ok {
			continue
		}
		if filepath.IsAbs(raw) {
			return block("worktree_boundary",
				fmt.Sprintf("absolute path %q is not allowed", raw), "path", raw)
		}
		if hasSegment(raw, "..") {
			return block("worktree_boundary",
				fmt.Sprintf("path %q traverses outside the worktree", raw), "path", raw)
		}
		if execCtx.WorktreeRoot != "" {
			resolved := filepath.Clean(filepath.Join(execCtx.WorktreeRoot, raw))
			rel, err := filepath.Rel(execCtx.WorktreeRoot, resolved)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return block("worktree_boundary",
					fmt.Sprintf("path %q resolves outside the worktree", raw), "path", raw)
			}
		}
	}
	return nil
}

var vcsMetadataDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// protectedMetadataRule blocks any access under a version-control metadata
// directory, including nested occurrences. Reads are blocked along with
// writes since refs and hooks leak repository state agents must not touch.
type protectedMetadataRule struct{}

func (protectedMetadataRule) ID() string { return "protected_metadata" }

func (protectedMetadataRule) Evaluate(tool string, args map[string]interface{}, execCtx ExecContext) *Decision {
	for _, key := range pathArgNames {
		raw, ok := stringArg(args, key)
		if !ok {
			continue
		}
		for _, segment := range strings.Split(filepath.ToSlash(raw), "/") {
			if vcsMetadataDirs[segment] {
				return block("protected_metadata",
					fmt.Sprintf("path %q touches version-control metadata", raw), "path", raw)
			}
		}
	}
	return nil
}

var sensitiveFileSuffixes = []string{".pem", ".key", ".crt", ".cer", ".p12", ".pfx"}

// sensitiveFileWriteRule blocks writes and deletes to credential-shaped
// paths. Reads are permitted so agents can still inspect configuration.
type sensitiveFileWriteRule struct{}

func (sensitiveFileWriteRule) ID() string { return "sensitive_file_write" }

func (sensitiveFileWriteRule) Evaluate(tool string, args map[string]interface{}, execCtx ExecContext) *Decision {
	if !profileFor(tool).writes {
		return nil
	}
	for _, key := range pathArgNames {
		raw, ok := stringArg(args, key)
		if !ok {
			continue
		}
		if isSensitivePath(raw) {
			return block("sensitive_file_write",
				fmt.Sprintf("writing %q is not allowed", raw), "path", raw)
		}
	}
	return nil
}

func isSensitivePath(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	if base == "credentials.json" {
		return true
	}
	if strings.HasPrefix(base, "id_rsa") || strings.HasPrefix(base, "id_ed25519") {
		return true
	}
	for _, suffix := range sensitiveFileSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// shellInjectionRule blocks shell metacharacters in the arguments of
// shell-executing tools.
type shellInjectionRule struct{}

func (shellInjectionRule) ID() string { return "shell_injection" }

func (shellInjectionRule) Evaluate(tool string, args map[string]interface{}, execCtx ExecContext) *Decision {
	if !profileFor(tool).shell {
		return nil
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value, ok := stringArg(args, key)
		if !ok {
			continue
		}
		if strings.ContainsAny(value, ";|`") || strings.Contains(value, "$(") {
			return block("shell_injection",
				fmt.Sprintf("argument %s contains shell metacharacters", key), "argument", value)
		}
	}
	return nil
}

func hasSegment(path, segment string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == segment {
			return true
		}
	}
	return false
}
