package domain

import "time"

// DefaultGroup is assumed for requesters that present no group memberships,
// matching the index-side convention that every document readable by anyone
// carries it in acl_allow.
const DefaultGroup = "all-employees"

// Requester is the identity context a query runs under. Identity issuance is
// external; this layer only consumes it for ACL trimming and personalization.
type Requester struct {
	Username   string   `json:"username"`
	Groups     []string `json:"groups"`
	Country    string   `json:"country"`
	Department string   `json:"department"`
}

// EffectiveGroups returns the requester's groups, falling back to the
// default group when none were presented.
func (r Requester) EffectiveGroups() []string {
	if len(r.Groups) == 0 {
		return []string{DefaultGroup}
	}
	return r.Groups
}

// Chunk is an indexed passage. Chunks are owned by the index and read-only
// to this layer.
type Chunk struct {
	ChunkID      string    `json:"chunk_id"`
	DocID        string    `json:"doc_id"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	Source       string    `json:"source"`
	URL          string    `json:"url,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Language     string    `json:"language,omitempty"`
	ACLAllow     []string  `json:"acl_allow"`
	ACLDeny      []string  `json:"acl_deny"`
	CountryTags  []string  `json:"country_tags"`
	Department   string    `json:"department"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// RankedChunk is a chunk together with the index's native relevance score
// for the query that produced it.
type RankedChunk struct {
	Chunk Chunk
	Score float64
}

// ScoredResult is a chunk after rank fusion. Ranks are 1-indexed; zero means
// the chunk did not appear in that leg.
type ScoredResult struct {
	Chunk       Chunk
	LexicalRank int
	VectorRank  int
	FusedScore  float64
}

// RetrievalRequest carries one fused-retrieval invocation.
type RetrievalRequest struct {
	Query                string
	Embedding            []float32
	Size                 int
	Requester            Requester
	BoostPersonalization bool
}

// IndexFilter is pushed down to the index on every query. The ACL terms are
// also re-checked in-process after retrieval; the index-side filter is an
// optimization, not the security boundary.
type IndexFilter struct {
	AllowGroups   []string
	ExcludeDocID  string
	CollapseByDoc bool
}
