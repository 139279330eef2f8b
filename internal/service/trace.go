package service

import (
	"context"
	"sort"
	"unicode/utf8"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

// TraceChunkRepository defines the chunk reads the graph builder needs.
type TraceChunkRepository interface {
	GetByIDs(ctx context.Context, chunkIDs []string) ([]*domain.Chunk, error)
}

// TraceSourceRepository defines the source reads the graph builder needs.
type TraceSourceRepository interface {
	GetByIDs(ctx context.Context, sourceIDs []string) ([]*domain.Source, error)
}

// GraphNodeKind tags which variant of a graph node is populated.
type GraphNodeKind string

const (
	NodeKindSource    GraphNodeKind = "source"
	NodeKindStory     GraphNodeKind = "story"
	NodeKindCriterion GraphNodeKind = "ac"
	NodeKindEvidence  GraphNodeKind = "evidence"
	NodeKindChunk     GraphNodeKind = "chunk"
)

// GraphEdgeType is one of the four relations the graph records.
type GraphEdgeType string

const (
	EdgeSourceToStory       GraphEdgeType = "source-to-story"
	EdgeStoryToCriterion    GraphEdgeType = "story-to-ac"
	EdgeCriterionToEvidence GraphEdgeType = "ac-to-evidence"
	EdgeEvidenceToChunk     GraphEdgeType = "evidence-to-chunk"
)

// SourceNode is the payload of a source node.
type SourceNode struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

// StoryNode is the payload of a story node. StrongestTier is the highest
// tier across the story's own evidence and its criteria's evidence; "none"
// when nothing cites it.
type StoryNode struct {
	Title         string                `json:"title"`
	StrongestTier domain.ConfidenceTier `json:"strongestTier"`
}

// CriterionNode is the payload of an acceptance criterion node. Its
// EvidenceCount always equals the node's in-degree of ac-to-evidence edges.
type CriterionNode struct {
	StoryID       string                `json:"storyId"`
	Text          string                `json:"text"`
	EvidenceCount int                   `json:"evidenceCount"`
	StrongestTier domain.ConfidenceTier `json:"strongestTier"`
}

// EvidenceNode is the payload of an evidence link node.
type EvidenceNode struct {
	Tier            domain.ConfidenceTier  `json:"tier"`
	EvolutionStatus domain.EvolutionStatus `json:"evolutionStatus"`
	Quote           string                 `json:"quote"`
}

// ChunkNode is the payload of a chunk node.
type ChunkNode struct {
	SourceID string `json:"sourceId"`
	Ordinal  int    `json:"ordinal"`
	Excerpt  string `json:"excerpt"`
}

// GraphNode is a tagged variant: exactly the payload named by Kind is set.
type GraphNode struct {
	ID        string         `json:"id"`
	Kind      GraphNodeKind  `json:"kind"`
	Source    *SourceNode    `json:"source,omitempty"`
	Story     *StoryNode     `json:"story,omitempty"`
	Criterion *CriterionNode `json:"criterion,omitempty"`
	Evidence  *EvidenceNode  `json:"evidence,omitempty"`
	Chunk     *ChunkNode     `json:"chunk,omitempty"`
}

// GraphEdge is one directed relation between two node ids. Evidence-bearing
// edges carry the link's confidence tier.
type GraphEdge struct {
	From string                `json:"from"`
	To   string                `json:"to"`
	Type GraphEdgeType         `json:"type"`
	Tier domain.ConfidenceTier `json:"tier,omitempty"`
}

// TraceStats summarizes the graph in one pass over its nodes and edges.
// Coverage is the share of criteria backed by at least one non-assumption
// evidence link.
type TraceStats struct {
	StoryCoverage     int                           `json:"storyCoverage"`     // percent of stories with any evidence
	CriterionCoverage int                           `json:"criterionCoverage"` // percent of criteria with non-assumption evidence
	NodeCounts        map[GraphNodeKind]int         `json:"nodeCounts"`
	EdgeCounts        map[GraphEdgeType]int         `json:"edgeCounts"`
	TierCounts        map[domain.ConfidenceTier]int `json:"tierCounts"`
}

// TraceGraph is the full traceability graph of one pack version.
type TraceGraph struct {
	VersionID string       `json:"versionId"`
	Nodes     []*GraphNode `json:"nodes"`
	Edges     []*GraphEdge `json:"edges"`
	Stats     TraceStats   `json:"stats"`
}

const chunkExcerptLength = 200

// TraceService builds the traceability graph linking sources, chunks,
// evidence, stories and criteria of a pack version.
type TraceService struct {
	versions VersionRepository
	chunks   TraceChunkRepository
	sources  TraceSourceRepository
}

// NewTraceService creates a new TraceService instance
func NewTraceService(versions VersionRepository, chunks TraceChunkRepository, sources TraceSourceRepository) *TraceService {
	return &TraceService{versions: versions, chunks: chunks, sources: sources}
}

// Build assembles the graph for a version. A version with no evidence at all
// still yields a valid graph of stories and criteria with zero coverage.
// Every edge points at a node constructed in the same pass, so the graph is
// referentially closed by construction.
func (s *TraceService) Build(ctx context.Context, versionID string) (*TraceGraph, error) {
	ctx, span := telemetry.StartSpan(ctx, "TraceService.Build", telemetry.SpanAttributes{
		VersionID: versionID,
		Operation: "trace_graph",
	})
	defer span.End()

	if versionID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "version ID is required")
	}

	if _, err := s.versions.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}

	stories, err := s.versions.ListStories(ctx, versionID)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to load stories", err)
	}
	criteria, err := s.versions.ListCriteria(ctx, versionID)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to load criteria", err)
	}
	links, err := s.versions.ListEvidenceLinks(ctx, versionID)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to load evidence links", err)
	}

	chunks, sources, err := s.loadCited(ctx, links)
	if err != nil {
		return nil, err
	}

	graph := &TraceGraph{VersionID: versionID}
	strongest := strongestTiers(stories, criteria, links)

	criterionStory := make(map[string]string, len(criteria))
	for _, c := range criteria {
		criterionStory[c.ID] = c.StoryID
	}
	chunkSource := make(map[string]string, len(chunks))
	for _, c := range chunks {
		chunkSource[c.ID] = c.SourceID
	}
	evidenceCount := make(map[string]int, len(criteria))
	for _, l := range links {
		if l.EntityType == domain.EntityTypeAcceptanceCriterion {
			evidenceCount[l.EntityID]++
		}
	}

	for _, src := range sources {
		graph.Nodes = append(graph.Nodes, &GraphNode{
			ID:   src.ID,
			Kind: NodeKindSource,
			Source: &SourceNode{
				Title: src.Title,
				Kind:  src.Kind,
			},
		})
	}
	for _, st := range stories {
		graph.Nodes = append(graph.Nodes, &GraphNode{
			ID:   st.ID,
			Kind: NodeKindStory,
			Story: &StoryNode{
				Title:         st.Title,
				StrongestTier: strongest[st.ID],
			},
		})
	}
	for _, c := range criteria {
		graph.Nodes = append(graph.Nodes, &GraphNode{
			ID:   c.ID,
			Kind: NodeKindCriterion,
			Criterion: &CriterionNode{
				StoryID:       c.StoryID,
				Text:          c.Text,
				EvidenceCount: evidenceCount[c.ID],
				StrongestTier: strongest[c.ID],
			},
		})
		graph.Edges = append(graph.Edges, &GraphEdge{From: c.StoryID, To: c.ID, Type: EdgeStoryToCriterion})
	}
	for _, l := range links {
		graph.Nodes = append(graph.Nodes, &GraphNode{
			ID:   l.ID,
			Kind: NodeKindEvidence,
			Evidence: &EvidenceNode{
				Tier:            l.Tier,
				EvolutionStatus: l.EvolutionStatus,
				Quote:           l.Quote,
			},
		})
		if l.EntityType == domain.EntityTypeAcceptanceCriterion {
			graph.Edges = append(graph.Edges, &GraphEdge{From: l.EntityID, To: l.ID, Type: EdgeCriterionToEvidence, Tier: l.Tier})
		}
		graph.Edges = append(graph.Edges, &GraphEdge{From: l.ID, To: l.ChunkID, Type: EdgeEvidenceToChunk, Tier: l.Tier})
	}
	for _, c := range chunks {
		graph.Nodes = append(graph.Nodes, &GraphNode{
			ID:   c.ID,
			Kind: NodeKindChunk,
			Chunk: &ChunkNode{
				SourceID: c.SourceID,
				Ordinal:  c.Ordinal,
				Excerpt:  excerpt(c.Content),
			},
		})
	}

	graph.Edges = append(graph.Edges, sourceStoryEdges(stories, links, criterionStory, chunkSource)...)

	graph.Stats = computeStats(graph, stories, criteria, strongest)
	return graph, nil
}

// sourceStoryEdges connects each source to the stories whose evidence cites
// one of its chunks. A criterion's citation counts for its story.
func sourceStoryEdges(stories []*domain.Story, links []*domain.EvidenceLink, criterionStory, chunkSource map[string]string) []*GraphEdge {
	storySources := make(map[string]map[string]struct{})
	for _, l := range links {
		storyID := l.EntityID
		if l.EntityType == domain.EntityTypeAcceptanceCriterion {
			storyID = criterionStory[l.EntityID]
		}
		sourceID := chunkSource[l.ChunkID]
		if storyID == "" || sourceID == "" {
			continue
		}
		if storySources[storyID] == nil {
			storySources[storyID] = make(map[string]struct{})
		}
		storySources[storyID][sourceID] = struct{}{}
	}

	var edges []*GraphEdge
	for _, st := range stories {
		sourceIDs := make([]string, 0, len(storySources[st.ID]))
		for id := range storySources[st.ID] {
			sourceIDs = append(sourceIDs, id)
		}
		sort.Strings(sourceIDs)
		for _, id := range sourceIDs {
			edges = append(edges, &GraphEdge{From: id, To: st.ID, Type: EdgeSourceToStory})
		}
	}
	return edges
}

// loadCited resolves the chunks cited by links and those chunks' sources,
// each in a stable order.
func (s *TraceService) loadCited(ctx context.Context, links []*domain.EvidenceLink) ([]*domain.Chunk, []*domain.Source, error) {
	chunkIDs := distinct(func(yield func(string)) {
		for _, l := range links {
			yield(l.ChunkID)
		}
	})
	if len(chunkIDs) == 0 {
		return nil, nil, nil
	}

	chunks, err := s.chunks.GetByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to load cited chunks", err)
	}

	sourceIDs := distinct(func(yield func(string)) {
		for _, c := range chunks {
			yield(c.SourceID)
		}
	})
	sources, err := s.sources.GetByIDs(ctx, sourceIDs)
	if err != nil {
		return nil, nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to load cited sources", err)
	}
	return chunks, sources, nil
}

// strongestTiers folds evidence links into the strongest tier per entity.
// A criterion's tier also rolls up into its story's.
func strongestTiers(stories []*domain.Story, criteria []*domain.AcceptanceCriterion, links []*domain.EvidenceLink) map[string]domain.ConfidenceTier {
	strongest := make(map[string]domain.ConfidenceTier, len(stories)+len(criteria))
	for _, st := range stories {
		strongest[st.ID] = domain.ConfidenceTierNone
	}
	for _, c := range criteria {
		strongest[c.ID] = domain.ConfidenceTierNone
	}
	for _, l := range links {
		strongest[l.EntityID] = domain.StrongerTier(strongest[l.EntityID], l.Tier)
	}
	for _, c := range criteria {
		strongest[c.StoryID] = domain.StrongerTier(strongest[c.StoryID], strongest[c.ID])
	}
	return strongest
}

// computeStats walks nodes and edges once.
func computeStats(graph *TraceGraph, stories []*domain.Story, criteria []*domain.AcceptanceCriterion, strongest map[string]domain.ConfidenceTier) TraceStats {
	stats := TraceStats{
		NodeCounts: make(map[GraphNodeKind]int),
		EdgeCounts: make(map[GraphEdgeType]int),
		TierCounts: make(map[domain.ConfidenceTier]int),
	}
	for _, n := range graph.Nodes {
		stats.NodeCounts[n.Kind]++
		if n.Kind == NodeKindEvidence {
			stats.TierCounts[n.Evidence.Tier]++
		}
	}
	for _, e := range graph.Edges {
		stats.EdgeCounts[e.Type]++
	}

	coveredStories := 0
	for _, st := range stories {
		if strongest[st.ID] != domain.ConfidenceTierNone {
			coveredStories++
		}
	}
	coveredCriteria := 0
	for _, c := range criteria {
		if domain.TierPriority(strongest[c.ID]) > domain.TierPriority(domain.ConfidenceTierAssumption) {
			coveredCriteria++
		}
	}
	if len(stories) > 0 {
		stats.StoryCoverage = roundPercent(float64(coveredStories) / float64(len(stories)))
	}
	if len(criteria) > 0 {
		stats.CriterionCoverage = roundPercent(float64(coveredCriteria) / float64(len(criteria)))
	}
	return stats
}

// excerpt truncates chunk content for node display, backing up to the
// nearest rune boundary so a multi-byte character is never split.
func excerpt(content string) string {
	if len(content) <= chunkExcerptLength {
		return content
	}
	cut := chunkExcerptLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// distinct collects unique values preserving nothing but a sorted order.
func distinct(each func(yield func(string))) []string {
	seen := make(map[string]struct{})
	each(func(v string) {
		if v != "" {
			seen[v] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
