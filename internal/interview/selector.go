package interview

import (
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/registry"
)

// SelectNextItem picks the next item to ask given the session's progress and
// the scores recorded so far. itemScores maps completed item ids to their
// 0-4 scores.
//
// Domains whose completed items reached their configured threshold are
// high-severity; their items and the items of their statically related
// domains are scanned first, in canonical domain order and registry order
// within each domain. If no priority item is pending the full canonical order
// is scanned. The empty string is returned only when pending is empty.
//
// The function is deterministic and side-effect-free: identical inputs always
// produce identical output.
func SelectNextItem(pending, completed []string, itemScores map[string]int) (string, bool) {
	if len(pending) == 0 {
		return "", false
	}

	pendingSet := make(map[string]bool, len(pending))
	for _, id := range pending {
		pendingSet[id] = true
	}

	priority := priorityDomains(completed, itemScores)
	if len(priority) > 0 {
		if id, ok := firstPendingIn(priority, pendingSet); ok {
			slog.Debug("SelectNextItem: priority domain match", "itemID", id)
			return id, true
		}
	}

	// Fall back to the full canonical order.
	id, ok := firstPendingIn(registry.CanonicalDomainOrder, pendingSet)
	if ok {
		slog.Debug("SelectNextItem: canonical order fallback", "itemID", id)
	}
	return id, ok
}

// priorityDomains returns the high-severity domains plus their related
// domains, filtered and ordered by the canonical domain order.
func priorityDomains(completed []string, itemScores map[string]int) []registry.Domain {
	high := make(map[registry.Domain]bool)
	for _, d := range registry.CanonicalDomainOrder {
		cfg, ok := registry.ConfigFor(d)
		if !ok {
			continue
		}
		if domainMaxScore(d, completed, itemScores) >= cfg.Threshold {
			high[d] = true
		}
	}
	if len(high) == 0 {
		return nil
	}

	wanted := make(map[registry.Domain]bool, len(high))
	for d := range high {
		wanted[d] = true
		for _, rel := range registry.RelatedDomains(d) {
			wanted[rel] = true
		}
	}

	ordered := make([]registry.Domain, 0, len(wanted))
	for _, d := range registry.CanonicalDomainOrder {
		if wanted[d] {
			ordered = append(ordered, d)
		}
	}
	return ordered
}

// domainMaxScore computes the maximum score among the domain's completed
// items. Items without a recorded score contribute nothing.
func domainMaxScore(d registry.Domain, completed []string, itemScores map[string]int) int {
	maxScore := -1
	for _, item := range registry.ItemsForDomain(d) {
		for _, done := range completed {
			if done != item.ID {
				continue
			}
			if score, ok := itemScores[item.ID]; ok && score > maxScore {
				maxScore = score
			}
		}
	}
	return maxScore
}

// firstPendingIn scans domains in the given order, items in registry order,
// and returns the first pending item id.
func firstPendingIn(domains []registry.Domain, pendingSet map[string]bool) (string, bool) {
	for _, d := range domains {
		for _, item := range registry.ItemsForDomain(d) {
			if pendingSet[item.ID] {
				return item.ID, true
			}
		}
	}
	return "", false
}
