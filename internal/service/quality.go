package service

import (
	"context"
	"math"
	"time"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

const (
	// duplicateSimilarityThreshold is the cosine similarity above which two
	// story embeddings count as duplicates.
	duplicateSimilarityThreshold = 0.9
)

// QualityService builds the quality report for a pack version. The five
// signals are independent: a failing judge degrades its own section and the
// rest of the report still comes back. The report is a pure read; QA flags
// are written only by the rule checker.
type QualityService struct {
	versions VersionRepository
	flags    QAFlagRepository
	reviewer ReviewJudge
	coherer  CoherenceJudge
}

// NewQualityService creates a new QualityService instance
func NewQualityService(versions VersionRepository, flags QAFlagRepository, reviewer ReviewJudge, coherer CoherenceJudge) *QualityService {
	return &QualityService{
		versions: versions,
		flags:    flags,
		reviewer: reviewer,
		coherer:  coherer,
	}
}

// SelfReviewSection is the judge's holistic assessment of the version.
type SelfReviewSection struct {
	ConfidenceScore    *int          `json:"confidenceScore"`
	Level              string        `json:"level"` // high | moderate | low | unknown
	Assessment         string        `json:"assessment"`
	IssueCount         int           `json:"issueCount"`
	Issues             []ReviewIssue `json:"issues"`
	MissedRequirements []string      `json:"missedRequirements"`
	Degraded           bool          `json:"degraded"`
}

// CoverageSection reports how much of the version is evidence-backed.
type CoverageSection struct {
	Percent         int    `json:"percent"`
	Band            string `json:"band"` // strong | moderate | weak
	CoveredStories  int    `json:"coveredStories"`
	TotalStories    int    `json:"totalStories"`
	CoveredCriteria int    `json:"coveredCriteria"`
	TotalCriteria   int    `json:"totalCriteria"`
}

// CoherenceSection reports whether the stories stay on the sources' topics.
// Coherent is nil when the judge was unavailable.
type CoherenceSection struct {
	Coherent         *bool    `json:"coherent"`
	OffTopicStoryIDs []string `json:"offTopicStoryIds"`
	Degraded         bool     `json:"degraded"`
}

// AssumptionSection reports the share of evidence resting on assumptions.
type AssumptionSection struct {
	Percent         int    `json:"percent"`
	Band            string `json:"band"` // low | moderate | high
	AssumptionLinks int    `json:"assumptionLinks"`
	TotalLinks      int    `json:"totalLinks"`
}

// QASection summarizes the rule checker's persisted flags. Pass rate is the
// share of flags that are not error severity; a version with no flags passes
// vacuously at 100.
type QASection struct {
	PassRate     int `json:"passRate"`
	TotalFlags   int `json:"totalFlags"`
	ErrorFlags   int `json:"errorFlags"`
	WarningFlags int `json:"warningFlags"`
}

// DuplicatePair is a pair of stories whose embeddings are near-identical.
type DuplicatePair struct {
	StoryAID   string  `json:"storyAId"`
	StoryBID   string  `json:"storyBId"`
	Similarity float64 `json:"similarity"`
}

// QualityReport is the fixed-shape report for one pack version. Every
// section is always present; degraded sections carry their marker instead
// of being dropped.
type QualityReport struct {
	VersionID   string            `json:"versionId"`
	SelfReview  SelfReviewSection `json:"selfReview"`
	Coverage    CoverageSection   `json:"coverage"`
	Coherence   CoherenceSection  `json:"coherence"`
	Assumptions AssumptionSection `json:"assumptions"`
	QA          QASection         `json:"qa"`
	Duplicates  []DuplicatePair   `json:"duplicates"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// Report generates the quality report for a version.
func (s *QualityService) Report(ctx context.Context, versionID string) (*QualityReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "QualityService.Report", telemetry.SpanAttributes{
		VersionID: versionID,
		Operation: "quality_report",
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

	report := &QualityReport{
		VersionID:   versionID,
		Coverage:    coverageSection(stories, criteria, links),
		Assumptions: assumptionSection(links),
		Duplicates:  duplicatePairs(stories),
		GeneratedAt: time.Now().UTC(),
	}
	report.QA = s.qaSection(ctx, versionID)
	report.SelfReview = s.selfReview(ctx, stories, criteria, links)
	report.Coherence = s.coherence(ctx, versionID, stories)

	return report, nil
}

// coverageSection counts criteria backed by at least one non-assumption
// evidence link; the percent and band come from criteria. A story counts as
// covered when it or any of its criteria has such a link.
func coverageSection(stories []*domain.Story, criteria []*domain.AcceptanceCriterion, links []*domain.EvidenceLink) CoverageSection {
	supported := make(map[string]bool, len(links))
	for _, l := range links {
		if l.Tier != domain.ConfidenceTierAssumption {
			supported[l.EntityID] = true
		}
	}

	criteriaByStory := make(map[string][]*domain.AcceptanceCriterion)
	for _, c := range criteria {
		criteriaByStory[c.StoryID] = append(criteriaByStory[c.StoryID], c)
	}

	section := CoverageSection{TotalStories: len(stories), TotalCriteria: len(criteria)}
	for _, c := range criteria {
		if supported[c.ID] {
			section.CoveredCriteria++
		}
	}
	for _, st := range stories {
		covered := supported[st.ID]
		for _, c := range criteriaByStory[st.ID] {
			if supported[c.ID] {
				covered = true
				break
			}
		}
		if covered {
			section.CoveredStories++
		}
	}

	if section.TotalCriteria > 0 {
		section.Percent = roundPercent(float64(section.CoveredCriteria) / float64(section.TotalCriteria))
	}
	switch {
	case section.Percent >= 80:
		section.Band = "strong"
	case section.Percent >= 50:
		section.Band = "moderate"
	default:
		section.Band = "weak"
	}
	return section
}

func assumptionSection(links []*domain.EvidenceLink) AssumptionSection {
	section := AssumptionSection{TotalLinks: len(links)}
	for _, l := range links {
		if l.Tier == domain.ConfidenceTierAssumption {
			section.AssumptionLinks++
		}
	}
	if section.TotalLinks > 0 {
		section.Percent = roundPercent(float64(section.AssumptionLinks) / float64(section.TotalLinks))
	}
	switch {
	case section.Percent > 30:
		section.Band = "high"
	case section.Percent >= 10:
		section.Band = "moderate"
	default:
		section.Band = "low"
	}
	return section
}

// qaSection reads the flags the rule checker persisted for the version. A
// failed read degrades to the vacuous default rather than failing the report.
func (s *QualityService) qaSection(ctx context.Context, versionID string) QASection {
	section := QASection{PassRate: 100}

	flags, err := s.flags.ListByVersion(ctx, versionID)
	if err != nil {
		telemetry.CaptureError(ctx, err)
		return section
	}

	section.TotalFlags = len(flags)
	for _, f := range flags {
		if f.Severity == domain.QAFlagSeverityError {
			section.ErrorFlags++
		} else {
			section.WarningFlags++
		}
	}
	if section.TotalFlags > 0 {
		section.PassRate = roundPercent(float64(section.TotalFlags-section.ErrorFlags) / float64(section.TotalFlags))
	}
	return section
}

// selfReview asks the review judge for its holistic verdict. On failure the
// section comes back degraded with no score rather than failing the report.
func (s *QualityService) selfReview(ctx context.Context, stories []*domain.Story, criteria []*domain.AcceptanceCriterion, links []*domain.EvidenceLink) SelfReviewSection {
	if len(stories) == 0 {
		return SelfReviewSection{Level: "unknown", Issues: []ReviewIssue{}, MissedRequirements: []string{}}
	}

	inputs, err := s.reviewInputs(ctx, stories, criteria, links)
	if err != nil {
		telemetry.CaptureError(ctx, err)
		return SelfReviewSection{Level: "unknown", Degraded: true, Issues: []ReviewIssue{}, MissedRequirements: []string{}}
	}

	outcome, err := s.reviewer.SelfReview(ctx, inputs)
	if err != nil {
		telemetry.CaptureError(ctx, err)
		return SelfReviewSection{Level: "unknown", Degraded: true, Issues: []ReviewIssue{}, MissedRequirements: []string{}}
	}

	score := outcome.ConfidenceScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	section := SelfReviewSection{
		ConfidenceScore:    &score,
		Assessment:         outcome.OverallAssessment,
		Issues:             outcome.Issues,
		MissedRequirements: outcome.MissedRequirements,
	}
	if section.Issues == nil {
		section.Issues = []ReviewIssue{}
	}
	if section.MissedRequirements == nil {
		section.MissedRequirements = []string{}
	}
	section.IssueCount = len(section.Issues)
	switch {
	case score >= 80:
		section.Level = "high"
	case score >= 50:
		section.Level = "moderate"
	default:
		section.Level = "low"
	}
	return section
}

func (s *QualityService) reviewInputs(ctx context.Context, stories []*domain.Story, criteria []*domain.AcceptanceCriterion, links []*domain.EvidenceLink) ([]ReviewStoryInput, error) {
	criteriaByStory := make(map[string][]*domain.AcceptanceCriterion)
	for _, c := range criteria {
		criteriaByStory[c.StoryID] = append(criteriaByStory[c.StoryID], c)
	}
	criterionStory := make(map[string]string, len(criteria))
	for _, c := range criteria {
		criterionStory[c.ID] = c.StoryID
	}

	chunkIDs := make([]string, 0, len(links))
	for _, l := range links {
		chunkIDs = append(chunkIDs, l.ChunkID)
	}
	contents, err := s.versions.GetChunkContents(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	chunksByStory := make(map[string][]string)
	for _, l := range links {
		storyID := l.EntityID
		if l.EntityType == domain.EntityTypeAcceptanceCriterion {
			storyID = criterionStory[l.EntityID]
		}
		if storyID == "" {
			continue
		}
		if text, ok := contents[l.ChunkID]; ok {
			chunksByStory[storyID] = append(chunksByStory[storyID], text)
		}
	}

	inputs := make([]ReviewStoryInput, len(stories))
	for i, st := range stories {
		texts := make([]string, 0, len(criteriaByStory[st.ID]))
		for _, c := range criteriaByStory[st.ID] {
			texts = append(texts, c.Text)
		}
		inputs[i] = ReviewStoryInput{
			Index:      i,
			Title:      st.Title,
			Criteria:   texts,
			ChunkTexts: chunksByStory[st.ID],
		}
	}
	return inputs, nil
}

// coherence asks the coherence judge which stories map to no source topic.
// On failure coherence is unknown, not false.
func (s *QualityService) coherence(ctx context.Context, versionID string, stories []*domain.Story) CoherenceSection {
	if len(stories) == 0 {
		coherent := true
		return CoherenceSection{Coherent: &coherent, OffTopicStoryIDs: []string{}}
	}

	topics, err := s.versions.ListSourceTopics(ctx, versionID)
	if err != nil {
		telemetry.CaptureError(ctx, err)
		return CoherenceSection{Degraded: true, OffTopicStoryIDs: []string{}}
	}

	titles := make([]string, len(stories))
	for i, st := range stories {
		titles[i] = st.Title
	}

	offTopic, err := s.coherer.JudgeCoherence(ctx, topics, titles)
	if err != nil {
		telemetry.CaptureError(ctx, err)
		return CoherenceSection{Degraded: true, OffTopicStoryIDs: []string{}}
	}

	section := CoherenceSection{OffTopicStoryIDs: []string{}}
	for _, idx := range offTopic {
		if idx >= 0 && idx < len(stories) {
			section.OffTopicStoryIDs = append(section.OffTopicStoryIDs, stories[idx].ID)
		}
	}
	coherent := len(section.OffTopicStoryIDs) == 0
	section.Coherent = &coherent
	return section
}

// duplicatePairs compares story embeddings pairwise. Stories without an
// embedding are skipped.
func duplicatePairs(stories []*domain.Story) []DuplicatePair {
	pairs := []DuplicatePair{}
	for i := 0; i < len(stories); i++ {
		if len(stories[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(stories); j++ {
			if len(stories[j].Embedding) != len(stories[i].Embedding) || len(stories[j].Embedding) == 0 {
				continue
			}
			sim := cosineSimilarity(stories[i].Embedding, stories[j].Embedding)
			if sim > duplicateSimilarityThreshold {
				a, b := stories[i].ID, stories[j].ID
				if b < a {
					a, b = b, a
				}
				pairs = append(pairs, DuplicatePair{StoryAID: a, StoryBID: b, Similarity: sim})
			}
		}
	}
	return pairs
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func roundPercent(fraction float64) int {
	return int(math.Round(fraction * 100))
}
