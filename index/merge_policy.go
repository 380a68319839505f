package index

import (
	"cmp"
	"math"
	"slices"
)

// MergeKind says why merges are requested.
type MergeKind uint8

const (
	// MergeNatural keeps the segment count logarithmic after flushes.
	MergeNatural MergeKind = iota
	// MergeForced merges down to MergeRequest.MaxSegmentCount segments.
	MergeForced
	// MergeForcedDeletes rewrites segments with many deletions.
	MergeForcedDeletes
)

func (k MergeKind) String() string {
	switch k {
	case MergeForced:
		return "forced"
	case MergeForcedDeletes:
		return "forced_deletes"
	default:
		return "natural"
	}
}

// MergeRequest is the input of a merge policy pass.
type MergeRequest struct {
	Kind MergeKind
	// MaxSegmentCount is the target of a forced merge.
	MaxSegmentCount int
}

// SegmentStats describes one segment to a merge policy.
type SegmentStats struct {
	Name      string
	MaxDoc    int
	DelCount  int
	SizeBytes int64
	// Merging is set for segments taking part in a running merge. Policies
	// must not select them.
	Merging bool
	// Diagnostics tell how the segment was produced.
	Diagnostics map[string]string
}

// NumDocs returns the number of live documents.
func (s SegmentStats) NumDocs() int { return s.MaxDoc - s.DelCount }

// DeletesRatio returns the fraction of deleted documents.
func (s SegmentStats) DeletesRatio() float64 {
	if s.MaxDoc == 0 {
		return 0
	}
	return float64(s.DelCount) / float64(s.MaxDoc)
}

// liveSize is the size without the share of deleted documents.
func (s SegmentStats) liveSize() int64 {
	return int64(float64(s.SizeBytes) * (1 - s.DeletesRatio()))
}

// MergeCandidate is a proposed merge, naming the segments to combine.
type MergeCandidate struct {
	Segments []string
}

// MergePolicy selects merges. It is a pure function of its input and must
// be safe for concurrent use; the writer serializes calls anyway.
type MergePolicy interface {
	FindMerges(req MergeRequest, segments []SegmentStats) []MergeCandidate
}

// MergeScorer rates a candidate merge; lower is better. Policies use it to
// choose among candidates of similar size.
type MergeScorer func(candidate []SegmentStats, floorBytes int64) float64

// SkewMergeScorer prefers merges of equally sized segments that reclaim
// deletions.
func SkewMergeScorer(candidate []SegmentStats, floorBytes int64) float64 {
	var total, totalFloored, largest, after int64
	for _, s := range candidate {
		size := s.liveSize()
		floored := max(size, floorBytes)
		total += s.SizeBytes
		totalFloored += floored
		largest = max(largest, floored)
		after += size
	}
	if totalFloored == 0 || total == 0 {
		return 0
	}
	skew := float64(largest) / float64(totalFloored)
	nonDel := float64(after) / float64(total)
	return skew * math.Pow(float64(max(after, 1)), 0.05) * nonDel * nonDel
}

// NoMergePolicy never merges on its own. Explicit ForceMerge and
// ForceMergeDeletes calls are still honored.
type NoMergePolicy struct{}

// noMergeMaxAtOnce bounds the fan-in of forced merges under NoMergePolicy.
const noMergeMaxAtOnce = 30

func (NoMergePolicy) FindMerges(req MergeRequest, segments []SegmentStats) []MergeCandidate {
	switch req.Kind {
	case MergeForced:
		return findForcedMerges(segments, req.MaxSegmentCount, noMergeMaxAtOnce)
	case MergeForcedDeletes:
		return findForcedDeletesMerges(segments, 0, noMergeMaxAtOnce)
	default:
		return nil
	}
}

// TieredMergePolicy merges segments of similar size, allowing
// SegmentsPerTier segments per power-of-MaxMergeAtOnce size tier.
type TieredMergePolicy struct {
	MaxMergeAtOnce         int
	MaxMergeAtOnceExplicit int
	SegmentsPerTier        float64
	// FloorSegmentBytes rounds up tiny segments so they merge early.
	FloorSegmentBytes int64
	// MaxMergedSegmentBytes caps natural merges.
	MaxMergedSegmentBytes int64
	// ForceMergeDeletesPctAllowed is the deletion percentage above which
	// forced-deletes merges rewrite a segment.
	ForceMergeDeletesPctAllowed float64
	Scorer                      MergeScorer
}

// NewTieredMergePolicy returns a tiered policy with default settings.
func NewTieredMergePolicy() *TieredMergePolicy {
	return &TieredMergePolicy{
		MaxMergeAtOnce:              10,
		MaxMergeAtOnceExplicit:      30,
		SegmentsPerTier:             10,
		FloorSegmentBytes:           2 << 20,
		MaxMergedSegmentBytes:       5 << 30,
		ForceMergeDeletesPctAllowed: 10,
		Scorer:                      SkewMergeScorer,
	}
}

func (p *TieredMergePolicy) FindMerges(req MergeRequest, segments []SegmentStats) []MergeCandidate {
	switch req.Kind {
	case MergeForced:
		return findForcedMerges(segments, req.MaxSegmentCount, p.MaxMergeAtOnceExplicit)
	case MergeForcedDeletes:
		return findForcedDeletesMerges(segments, p.ForceMergeDeletesPctAllowed, p.MaxMergeAtOnceExplicit)
	default:
		return p.findNatural(segments)
	}
}

func (p *TieredMergePolicy) findNatural(segments []SegmentStats) []MergeCandidate {
	scorer := p.Scorer
	if scorer == nil {
		scorer = SkewMergeScorer
	}
	eligible := make([]SegmentStats, 0, len(segments))
	var total int64
	minSize := int64(math.MaxInt64)
	for _, s := range segments {
		if s.Merging {
			continue
		}
		eligible = append(eligible, s)
		total += s.liveSize()
		minSize = min(minSize, s.liveSize())
	}
	slices.SortStableFunc(eligible, func(a, b SegmentStats) int { return cmp.Compare(b.liveSize(), a.liveSize()) })

	// Segments too large to merge naturally do not count against the budget.
	tooBig := 0
	for tooBig < len(eligible) && eligible[tooBig].liveSize() > p.MaxMergedSegmentBytes/2 {
		total -= eligible[tooBig].liveSize()
		tooBig++
	}

	levelSize := max(minSize, p.FloorSegmentBytes)
	allowed := 0.0
	for remaining := total; remaining > 0; levelSize *= int64(p.MaxMergeAtOnce) {
		segCount := float64(remaining) / float64(levelSize)
		if segCount < p.SegmentsPerTier {
			allowed += math.Ceil(segCount)
			break
		}
		allowed += p.SegmentsPerTier
		remaining -= int64(p.SegmentsPerTier * float64(levelSize))
	}
	allowedCount := max(int(allowed), int(p.SegmentsPerTier))

	var merges []MergeCandidate
	pool := eligible[tooBig:]
	for len(pool) > allowedCount && len(pool) >= 2 {
		var (
			best      []SegmentStats
			bestScore float64
		)
		for start := 0; start <= len(pool)-2; start++ {
			var cand []SegmentStats
			var size int64
			for i := start; i < len(pool) && len(cand) < p.MaxMergeAtOnce; i++ {
				s := pool[i]
				if size+s.liveSize() > p.MaxMergedSegmentBytes {
					continue
				}
				cand = append(cand, s)
				size += s.liveSize()
			}
			if len(cand) < 2 {
				continue
			}
			// A merge of fewer than MaxMergeAtOnce segments is only worth it
			// when it hit the size cap.
			if len(cand) < p.MaxMergeAtOnce && size < p.MaxMergedSegmentBytes/2 && start+len(cand) < len(pool) {
				continue
			}
			score := scorer(cand, p.FloorSegmentBytes)
			if best == nil || score < bestScore {
				best, bestScore = cand, score
			}
		}
		if best == nil {
			break
		}
		merges = append(merges, candidateOf(best))
		pool = slices.DeleteFunc(slices.Clone(pool), func(s SegmentStats) bool {
			return slices.ContainsFunc(best, func(b SegmentStats) bool { return b.Name == s.Name })
		})
	}
	return merges
}

func candidateOf(segs []SegmentStats) MergeCandidate {
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.Name
	}
	return MergeCandidate{Segments: names}
}

// findForcedMerges proposes merges that bring the index down to maxCount
// segments. One pass may not reach the target; the writer calls again after
// each round of merges finished.
func findForcedMerges(segments []SegmentStats, maxCount, maxAtOnce int) []MergeCandidate {
	maxCount = max(maxCount, 1)
	maxAtOnce = max(maxAtOnce, 2)
	var eligible []SegmentStats
	for _, s := range segments {
		if !s.Merging {
			eligible = append(eligible, s)
		}
	}
	count := len(segments)
	if count <= maxCount {
		// A single segment still gets rewritten to expunge its deletions.
		if maxCount == 1 && count == 1 && len(eligible) == 1 && eligible[0].DelCount > 0 {
			return []MergeCandidate{candidateOf(eligible)}
		}
		return nil
	}
	if len(eligible) < 2 {
		return nil
	}
	slices.SortStableFunc(eligible, func(a, b SegmentStats) int { return cmp.Compare(a.liveSize(), b.liveSize()) })

	var merges []MergeCandidate
	need := count - maxCount
	for need > 0 && len(eligible) >= 2 {
		n := min(need+1, maxAtOnce, len(eligible))
		merges = append(merges, candidateOf(eligible[:n]))
		eligible = eligible[n:]
		need -= n - 1
	}
	return merges
}

// findForcedDeletesMerges rewrites every segment whose deletion percentage
// exceeds pctAllowed, grouping up to maxAtOnce of them per merge.
func findForcedDeletesMerges(segments []SegmentStats, pctAllowed float64, maxAtOnce int) []MergeCandidate {
	var merges []MergeCandidate
	var cur []SegmentStats
	for _, s := range segments {
		if s.Merging || s.DelCount == 0 || 100*s.DeletesRatio() <= pctAllowed {
			continue
		}
		cur = append(cur, s)
		if len(cur) == max(maxAtOnce, 1) {
			merges = append(merges, candidateOf(cur))
			cur = nil
		}
	}
	if len(cur) > 0 {
		merges = append(merges, candidateOf(cur))
	}
	return merges
}

// LogDocMergePolicy merges MergeFactor adjacent segments whose document
// counts fall in the same log(MergeFactor) level.
type LogDocMergePolicy struct {
	MergeFactor int
	// MinMergeDocs puts all smaller segments into the lowest level.
	MinMergeDocs int
	// MaxMergeDocs excludes larger segments from natural merges; zero means
	// no limit.
	MaxMergeDocs                int
	ForceMergeDeletesPctAllowed float64
}

// NewLogDocMergePolicy returns a log policy with default settings.
func NewLogDocMergePolicy() *LogDocMergePolicy {
	return &LogDocMergePolicy{MergeFactor: 10, MinMergeDocs: 1000, ForceMergeDeletesPctAllowed: 0}
}

// levelLogSpan is the width of a level below the top level of a run.
const levelLogSpan = 0.75

func (p *LogDocMergePolicy) FindMerges(req MergeRequest, segments []SegmentStats) []MergeCandidate {
	factor := max(p.MergeFactor, 2)
	switch req.Kind {
	case MergeForced:
		return findForcedMerges(segments, req.MaxSegmentCount, factor)
	case MergeForcedDeletes:
		return findForcedDeletesMerges(segments, p.ForceMergeDeletesPctAllowed, factor)
	}

	norm := math.Log(float64(factor))
	levels := make([]float64, len(segments))
	for i, s := range segments {
		levels[i] = math.Log(float64(max(s.NumDocs(), 1))) / norm
	}
	floorLevel := -1.0
	if p.MinMergeDocs > 0 {
		floorLevel = math.Log(float64(p.MinMergeDocs)) / norm
	}

	var merges []MergeCandidate
	for start := 0; start < len(segments); {
		maxLevel := levels[start]
		for _, l := range levels[start+1:] {
			maxLevel = max(maxLevel, l)
		}
		bottom := maxLevel - levelLogSpan
		if maxLevel <= floorLevel {
			bottom = -1
		} else if bottom < floorLevel {
			bottom = floorLevel
		}
		upto := len(segments) - 1
		for upto >= start && levels[upto] < bottom {
			upto--
		}
		for end := start + factor; end <= upto+1; start, end = end, end+factor {
			window := segments[start:end]
			if slices.ContainsFunc(window, func(s SegmentStats) bool {
				return s.Merging || p.MaxMergeDocs > 0 && s.NumDocs() > p.MaxMergeDocs
			}) {
				continue
			}
			merges = append(merges, candidateOf(window))
		}
		start = upto + 1
	}
	return merges
}
