package channel

// MergeOptions configures the interleaving algorithm used to fold several
// divergent chain heads back into one ordered stream (see DESIGN.md for how
// the two flags below were pinned down): OnlyDifferentElements filters the
// merged stream down to entries that are not present on every input chain;
// YieldCommonHistoryElement additionally re-emits the single highest-ranked
// entry that is common to all chains (the point histories last agreed) as
// the final element of the result, tagged Common, regardless of the filter.
type MergeOptions struct {
	OnlyDifferentElements     bool
	YieldCommonHistoryElement bool
}

// MergedEntry is one element of MergeChains' output.
type MergedEntry struct {
	Entry  Entry
	Common bool
}

// MergeChains interleaves every distinct entry across chains exactly once,
// ordered by (creationTime DESC, creationTimeHash DESC), deduplicating by
// creationTimeHash — which is already unique per (timestamp, payload), so
// two chains agreeing on it are necessarily agreeing on the same post (spec
// §4.E "Determinism"). The result depends only on the multiset of chains,
// never on argument order.
func MergeChains(chains [][]Entry, opts MergeOptions) []MergedEntry {
	positions := make([]int, len(chains))
	var merged []MergedEntry
	var commonCandidate *Entry

	for {
		best := -1
		for i := range chains {
			if positions[i] >= len(chains[i]) {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			a := chains[i][positions[i]]
			b := chains[best][positions[best]]
			if compareKey(a.CreationTime, a.CreationTimeHash, b.CreationTime, b.CreationTimeHash) > 0 {
				best = i
			}
		}
		if best == -1 {
			break
		}

		winner := chains[best][positions[best]]
		present := 0
		for i := range chains {
			if positions[i] < len(chains[i]) && chains[i][positions[i]].CreationTimeHash == winner.CreationTimeHash {
				positions[i]++
				present++
			}
		}

		isCommon := present == len(chains)
		if isCommon && commonCandidate == nil {
			w := winner
			commonCandidate = &w
		}
		if !opts.OnlyDifferentElements || !isCommon {
			merged = append(merged, MergedEntry{Entry: winner})
		}
	}

	if opts.YieldCommonHistoryElement && commonCandidate != nil {
		merged = append(merged, MergedEntry{Entry: *commonCandidate, Common: true})
	}
	return merged
}

func mergedToEntryData(merged []MergedEntry) []entryData {
	out := make([]entryData, 0, len(merged))
	for _, m := range merged {
		if m.Common {
			continue // the common-history marker is informational, not a chain element
		}
		out = append(out, entryData{
			CreationTime:     m.Entry.CreationTime,
			CreationTimeHash: m.Entry.CreationTimeHash,
			PayloadHash:      m.Entry.PayloadHash,
			Metadata:         m.Entry.Metadata,
		})
	}
	return out
}
