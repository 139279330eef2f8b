package service

import (
	"context"
	"strings"
	"time"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

// qaRule is one deterministic check applied per story.
type qaRule struct {
	id       string
	severity domain.QAFlagSeverity
	check    func(story *domain.Story, criteria []*domain.AcceptanceCriterion) (ok bool, message string)
}

var qaRules = []qaRule{
	{
		id:       "story_has_criteria",
		severity: domain.QAFlagSeverityError,
		check: func(st *domain.Story, criteria []*domain.AcceptanceCriterion) (bool, string) {
			if len(criteria) == 0 {
				return false, "story has no acceptance criteria"
			}
			return true, ""
		},
	},
	{
		id:       "criteria_nonempty",
		severity: domain.QAFlagSeverityError,
		check: func(st *domain.Story, criteria []*domain.AcceptanceCriterion) (bool, string) {
			for _, c := range criteria {
				if strings.TrimSpace(c.Text) == "" {
					return false, "acceptance criterion has empty text"
				}
			}
			return true, ""
		},
	},
	{
		id:       "story_title_present",
		severity: domain.QAFlagSeverityError,
		check: func(st *domain.Story, criteria []*domain.AcceptanceCriterion) (bool, string) {
			if strings.TrimSpace(st.Title) == "" {
				return false, "story has no title"
			}
			return true, ""
		},
	},
	{
		id:       "story_not_overloaded",
		severity: domain.QAFlagSeverityWarning,
		check: func(st *domain.Story, criteria []*domain.AcceptanceCriterion) (bool, string) {
			if len(criteria) > 8 {
				return false, "story has more than 8 acceptance criteria; consider splitting"
			}
			return true, ""
		},
	},
}

// QACheckOutcome summarizes one rule-checking pass over a version.
type QACheckOutcome struct {
	Checks   int `json:"checks"`
	Passed   int `json:"passed"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// QACheckService is the deterministic rule checker. It is the sole writer of
// a version's QA flags; the quality report and analytics only read them.
type QACheckService struct {
	versions VersionRepository
	flags    QAFlagRepository
	uuidGen  UUIDGenerator
}

// NewQACheckService creates a new QACheckService instance
func NewQACheckService(versions VersionRepository, flags QAFlagRepository) *QACheckService {
	return &QACheckService{
		versions: versions,
		flags:    flags,
		uuidGen:  &DefaultUUIDGenerator{},
	}
}

// Run applies every rule to every story and replaces the version's flags
// with the fresh findings. A clean pass leaves the version with zero flags.
func (s *QACheckService) Run(ctx context.Context, versionID string) (*QACheckOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "QACheckService.Run", telemetry.SpanAttributes{
		VersionID: versionID,
		Operation: "qa_check",
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

	criteriaByStory := make(map[string][]*domain.AcceptanceCriterion)
	for _, c := range criteria {
		criteriaByStory[c.StoryID] = append(criteriaByStory[c.StoryID], c)
	}

	now := time.Now().UTC()
	outcome := &QACheckOutcome{}
	flags := []*domain.QAFlag{}

	for _, st := range stories {
		for _, rule := range qaRules {
			outcome.Checks++
			ok, message := rule.check(st, criteriaByStory[st.ID])
			if ok {
				outcome.Passed++
				continue
			}
			if rule.severity == domain.QAFlagSeverityError {
				outcome.Errors++
			} else {
				outcome.Warnings++
			}
			flags = append(flags, &domain.QAFlag{
				ID:        s.uuidGen.NewString(),
				VersionID: versionID,
				StoryID:   st.ID,
				RuleID:    rule.id,
				Severity:  rule.severity,
				Message:   message,
				CreatedAt: now,
			})
		}
	}

	if err := s.flags.ReplaceForVersion(ctx, versionID, flags); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to persist qa flags", err)
	}
	return outcome, nil
}
