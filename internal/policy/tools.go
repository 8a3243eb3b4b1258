package policy

// pathArgNames are the argument keys that carry filesystem paths.
var pathArgNames = []string{"path", "directory"}

// toolProfile describes how a tool touches the worktree and how long it may
// run before the sweeper expires it. A zero timeout defers to the configured
// default.
type toolProfile struct {
	writes    bool
	shell     bool
	timeoutMs int
}

// toolProfiles catalogs the tools agents are expected to call. Unknown tools
// are treated as both writing and shell-executing so new tools fail closed
// until cataloged.
var toolProfiles = map[string]toolProfile{
	"read_file":   {},
	"list_dir":    {},
	"search_code": {},
	"git_diff":    {},
	"write_file":  {writes: true},
	"delete_file": {writes: true},
	"move_file":   {writes: true},
	"apply_patch": {writes: true},
	"run_shell":   {writes: true, shell: true, timeoutMs: 120000},
	"run_tests":   {shell: true, timeoutMs: 300000},
}

func profileFor(tool string) toolProfile {
	if profile, ok := toolProfiles[tool]; ok {
		return profile
	}
	return toolProfile{writes: true, shell: true}
}

// DefaultTimeoutMs returns the cataloged deadline for a tool, or zero when
// the tool has none and the caller's default applies.
func DefaultTimeoutMs(tool string) int {
	return profileFor(tool).timeoutMs
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
