package gate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

const verdictScanWindow = 200

// ExtractVerdict parses a reviewer's free-text decision. The first line is
// matched exactly against the verdict keywords, case-insensitive; failing
// that, the first 200 characters are scanned for them. Text carrying both
// keywords, or neither, counts as changes requested rather than guessing at
// intent.
func ExtractVerdict(text string) domain.Verdict {
	trimmed := strings.TrimSpace(text)

	firstLine := trimmed
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine = trimmed[:idx]
	}
	switch strings.ToUpper(strings.TrimSpace(firstLine)) {
	case "APPROVED":
		return domain.VerdictApproved
	case "CHANGES_REQUESTED":
		return domain.VerdictChangesRequested
	}

	window := trimmed
	if len(window) > verdictScanWindow {
		window = window[:verdictScanWindow]
	}
	upper := strings.ToUpper(window)
	hasApproved := strings.Contains(upper, "APPROVED")
	hasChanges := strings.Contains(upper, "CHANGES_REQUESTED")
	if hasApproved && !hasChanges {
		return domain.VerdictApproved
	}
	return domain.VerdictChangesRequested
}

// reviewVerdict resolves a review artifact's verdict. A structured verdict
// from the invocation that produced the review wins; free text is parsed
// only when no structured field exists.
func reviewVerdict(ctx context.Context, st store.Store, review *domain.Artifact) (domain.Verdict, error) {
	if review.SourceInvocationID != "" {
		inv, err := st.GetInvocation(ctx, review.SourceInvocationID)
		if err != nil {
			return "", err
		}
		if inv != nil && len(inv.Result) > 0 {
			var payload struct {
				Verdict string `json:"verdict"`
			}
			if err := json.Unmarshal(inv.Result, &payload); err == nil {
				switch domain.Verdict(payload.Verdict) {
				case domain.VerdictApproved:
					return domain.VerdictApproved, nil
				case domain.VerdictChangesRequested:
					return domain.VerdictChangesRequested, nil
				}
			}
		}
	}
	return ExtractVerdict(review.Content), nil
}
