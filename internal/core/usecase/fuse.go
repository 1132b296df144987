package usecase

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/core/ports"
)

// FusionConfig tunes rank fusion. Zero values fall back to the defaults the
// index was calibrated against.
type FusionConfig struct {
	// RRFK is the reciprocal-rank-fusion damping constant.
	RRFK int
	// CandidateMultiplier scales the requested size on each leg to give
	// fusion headroom.
	CandidateMultiplier int
	// CountryBoost multiplies the fused score when the requester's country
	// appears in the chunk's country tags.
	CountryBoost float64
	// DepartmentBoost multiplies the fused score on a department match.
	DepartmentBoost float64
}

func (c FusionConfig) normalize() FusionConfig {
	out := c
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	if out.CandidateMultiplier <= 0 {
		out.CandidateMultiplier = 2
	}
	if out.CountryBoost <= 0 {
		out.CountryBoost = 1.3
	}
	if out.DepartmentBoost <= 0 {
		out.DepartmentBoost = 1.2
	}
	return out
}

// RetrievalFuser merges the lexical and vector legs of the index into one
// security-trimmed, personalization-adjusted ranking.
type RetrievalFuser struct {
	index ports.SearchIndex
	cfg   FusionConfig
}

func NewRetrievalFuser(index ports.SearchIndex, cfg FusionConfig) *RetrievalFuser {
	return &RetrievalFuser{
		index: index,
		cfg:   cfg.normalize(),
	}
}

// Fuse runs both legs concurrently, fuses them with RRF, drops chunks the
// requester may not see, applies personalization boosts, and returns at most
// req.Size results ordered by adjusted score.
//
// One leg failing degrades to the surviving leg; both failing returns
// domain.ErrRetrievalUnavailable.
func (f *RetrievalFuser) Fuse(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredResult, error) {
	size := req.Size
	if size < 1 {
		size = 1
	}
	headroom := size * f.cfg.CandidateMultiplier
	filter := domain.IndexFilter{AllowGroups: req.Requester.EffectiveGroups()}

	var (
		lexical, vector []domain.RankedChunk
		lexErr, vecErr  error
	)
	// Errors are captured, not returned: a single failed leg must not cancel
	// the other one.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, lexErr = f.index.LexicalQuery(gctx, req.Query, headroom, filter)
		return nil
	})
	g.Go(func() error {
		vector, vecErr = f.index.VectorQuery(gctx, req.Embedding, headroom, filter)
		return nil
	})
	_ = g.Wait()

	if lexErr != nil && vecErr != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "fuse retrieval", lexErr)
	}
	if lexErr != nil {
		slog.Warn("lexical_leg_degraded", "query", req.Query, "error", lexErr)
	}
	if vecErr != nil {
		slog.Warn("vector_leg_degraded", "query", req.Query, "error", vecErr)
	}

	fused := fuseRRF(lexical, vector, f.cfg.RRFK, req.Requester.EffectiveGroups())

	if req.BoostPersonalization {
		for i := range fused {
			fused[i].FusedScore *= f.personalizationFactor(fused[i].Chunk, req.Requester)
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].Chunk.ChunkID < fused[j].Chunk.ChunkID
	})

	if len(fused) > size {
		fused = fused[:size]
	}
	return fused, nil
}

func (f *RetrievalFuser) personalizationFactor(chunk domain.Chunk, requester domain.Requester) float64 {
	factor := 1.0
	if requester.Country != "" && containsString(chunk.CountryTags, requester.Country) {
		factor *= f.cfg.CountryBoost
	}
	if requester.Department != "" && requester.Department == chunk.Department {
		factor *= f.cfg.DepartmentBoost
	}
	return factor
}

// fuseRRF accumulates reciprocal-rank contributions from both legs and
// applies the ACL predicate as a hard exclusion. Ranks are 1-indexed; a chunk
// absent from a leg simply contributes nothing for it.
func fuseRRF(lexical, vector []domain.RankedChunk, rrfK int, groups []string) []domain.ScoredResult {
	acc := make(map[string]*domain.ScoredResult, len(lexical)+len(vector))

	add := func(chunks []domain.RankedChunk, isLexical bool) {
		for i, rc := range chunks {
			if !aclPermits(rc.Chunk, groups) {
				continue
			}
			rank := i + 1
			entry, ok := acc[rc.Chunk.ChunkID]
			if !ok {
				entry = &domain.ScoredResult{Chunk: rc.Chunk}
				acc[rc.Chunk.ChunkID] = entry
			}
			if isLexical {
				entry.LexicalRank = rank
			} else {
				entry.VectorRank = rank
			}
			entry.FusedScore += 1.0 / float64(rrfK+rank)
		}
	}

	add(lexical, true)
	add(vector, false)

	out := make([]domain.ScoredResult, 0, len(acc))
	for _, entry := range acc {
		out = append(out, *entry)
	}
	return out
}

// aclPermits is the security predicate: the requester needs at least one
// allowed group and no denied group. Failing it excludes the chunk outright,
// never demotes it.
func aclPermits(chunk domain.Chunk, groups []string) bool {
	if !intersects(chunk.ACLAllow, groups) {
		return false
	}
	return !intersects(chunk.ACLDeny, groups)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
