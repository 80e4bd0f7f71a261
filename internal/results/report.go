package results

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// Report renders a grouped plain-text summary of a result snapshot: valid
// links first with their display names, then invalid links, then errors.
// Within each group the records are sorted by canonical address.
func Report(snapshot map[string]check.Record) string {
	var valid, invalid, errored []check.Record
	for _, rec := range snapshot {
		switch rec.Status {
		case check.StatusValid:
			valid = append(valid, rec)
		case check.StatusInvalid:
			invalid = append(invalid, rec)
		case check.StatusError:
			errored = append(errored, rec)
		}
	}
	for _, group := range [][]check.Record{valid, invalid, errored} {
		sort.Slice(group, func(i, j int) bool { return group[i].Canonical < group[j].Canonical })
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Valid links (%d):\n", len(valid))
	for _, rec := range valid {
		fmt.Fprintf(&b, "  %s - %s", rec.Canonical, rec.DisplayName)
		if rec.MemberInfo != "" {
			fmt.Fprintf(&b, " (%s)", rec.MemberInfo)
		}
		if rec.RedirectedTo != "" {
			fmt.Fprintf(&b, " -> %s", rec.RedirectedTo)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\nInvalid links (%d):\n", len(invalid))
	for _, rec := range invalid {
		fmt.Fprintf(&b, "  %s\n", rec.Canonical)
	}

	fmt.Fprintf(&b, "\nErrors (%d):\n", len(errored))
	for _, rec := range errored {
		fmt.Fprintf(&b, "  %s - %s\n", rec.Canonical, rec.Message)
	}

	total := len(valid) + len(invalid) + len(errored)
	fmt.Fprintf(&b, "\nChecked %d links: %d valid, %d invalid, %d errors\n",
		total, len(valid), len(invalid), len(errored))
	return b.String()
}

// ValidLinks returns the canonical addresses of all valid records, sorted.
func ValidLinks(snapshot map[string]check.Record) []string {
	var links []string
	for _, rec := range snapshot {
		if rec.Status == check.StatusValid {
			links = append(links, rec.Canonical)
		}
	}
	sort.Strings(links)
	return links
}
