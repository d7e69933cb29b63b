// Package chat implements the assessment turn processor: it drives a user
// through the fixed stage sequence, maintains conversation history, and
// decides stage transitions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdnlabs/pdn-chat/internal/domain"
	"github.com/pdnlabs/pdn-chat/internal/oracle"
	"github.com/pdnlabs/pdn-chat/internal/report"
	"github.com/pdnlabs/pdn-chat/internal/stage"
	"github.com/pdnlabs/pdn-chat/internal/store"
	"github.com/pdnlabs/pdn-chat/internal/transcript"
)

// Service processes conversation turns for assessments. All per-user state
// access is serialized through a keyed lock; the service itself holds no
// session state.
type Service struct {
	repo          store.Repository
	catalog       *stage.Catalog
	oracle        oracle.Client
	finalizer     *report.Finalizer
	transcripts   *transcript.Logger
	locks         *userLocks
	oracleTimeout time.Duration
}

// NewService creates a turn processor.
func NewService(repo store.Repository, catalog *stage.Catalog, oc oracle.Client, fin *report.Finalizer, oracleTimeout time.Duration) *Service {
	return &Service{
		repo:          repo,
		catalog:       catalog,
		oracle:        oc,
		finalizer:     fin,
		locks:         newUserLocks(),
		oracleTimeout: oracleTimeout,
	}
}

// NewServiceWithTranscripts creates a turn processor that also records turns
// to a transcript logger.
func NewServiceWithTranscripts(repo store.Repository, catalog *stage.Catalog, oc oracle.Client, fin *report.Finalizer, oracleTimeout time.Duration, transcripts *transcript.Logger) *Service {
	s := NewService(repo, catalog, oc, fin, oracleTimeout)
	s.transcripts = transcripts
	return s
}

// TurnResult is the outcome of one processed message.
type TurnResult struct {
	Reply        string         `json:"reply"`
	Stage        domain.StageID `json:"stage"`
	StageChanged bool           `json:"stage_changed"`
	Completed    bool           `json:"completed"`
}

// HandleMessage processes one user message: it injects the active stage's
// system prompt when needed, consults the completion oracle with the full
// history, applies the transition policy, and persists the updated state.
//
// An oracle failure mutates nothing; the persisted assessment is untouched
// and the call is safe to retry.
func (s *Service) HandleMessage(ctx context.Context, userID, language, message string) (*TurnResult, error) {
	release := s.locks.acquire(userID)
	defer release()

	a, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	def, err := s.catalog.Lookup(a.Stage)
	if err != nil {
		// A stage outside the catalog means the persisted state predates a
		// catalog change. Recover with a fresh assessment rather than failing
		// the user permanently.
		slog.Warn("Assessment references unknown stage, resetting", "user_id", userID, "stage", a.Stage)
		a = domain.NewAssessment(userID, s.catalog.First().ID)
		def = s.catalog.First()
	}

	// Mutate a clone; the original is the rollback point if the oracle fails.
	work := a.Clone()
	if language != "" {
		work.Language = language
	}

	if !work.HasSystemPromptFor(work.Stage) {
		work.AppendTurn(domain.RoleSystem, def.Prompt, work.Stage)
	}
	work.AppendTurn(domain.RoleUser, message, work.Stage)

	octx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()

	res, err := s.oracle.Complete(octx, work.Turns)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(octx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: completion timed out", domain.ErrOracleUnavailable)
		}
		return nil, fmt.Errorf("complete turn: %w", err)
	}

	work.AppendTurn(domain.RoleAssistant, res.Text, work.Stage)
	for k, v := range res.Data {
		work.RecordAnswer(work.Stage, k, v)
	}

	stageChanged := false
	if !work.Completed {
		work.AnswerCount++
		if res.Advance || work.AnswerCount >= def.RequiredAnswers {
			if err := s.advance(work, def); err != nil {
				return nil, err
			}
			stageChanged = true
		}
	}

	work.UpdatedAt = time.Now()
	if err := s.repo.SaveAssessment(ctx, work); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}

	s.record(userID, def.ID, domain.RoleUser, message)
	s.record(userID, def.ID, domain.RoleAssistant, res.Text)

	if stageChanged {
		slog.Info("Stage transition", "user_id", userID, "from", def.ID, "to", work.Stage, "completed", work.Completed)
	}
	if work.Completed && stageChanged {
		s.generateReport(ctx, work)
	}

	return &TurnResult{
		Reply:        res.Text,
		Stage:        work.Stage,
		StageChanged: stageChanged,
		Completed:    work.Completed,
	}, nil
}

// advance applies the transition policy: the catalog-defined successor becomes
// the current stage and the counter resets. Reaching the terminal stage sets
// the completion flag. No stage is ever skipped and answer content never
// selects the successor.
func (s *Service) advance(a *domain.Assessment, def *stage.Definition) error {
	a.AnswerCount = 0

	if def.Terminal() {
		now := time.Now()
		a.Completed = true
		a.CompletedAt = &now
		return nil
	}

	next, err := s.catalog.Lookup(def.Next)
	if err != nil {
		return fmt.Errorf("lookup successor of %s: %w", def.ID, err)
	}
	a.Stage = next.ID
	return nil
}

// generateReport finalizes and stores the report after completion. Failure is
// logged, not returned: the assessment stays completed and the report endpoint
// retries finalization on demand.
func (s *Service) generateReport(ctx context.Context, a *domain.Assessment) {
	rep, err := s.finalizer.Finalize(a)
	if err != nil {
		slog.Error("Report finalization failed", "user_id", a.UserID, "error", err)
		return
	}
	if err := s.repo.SaveReport(ctx, rep); err != nil {
		slog.Error("Failed to save report", "user_id", a.UserID, "error", err)
		return
	}
	slog.Info("Report generated", "user_id", a.UserID, "report_id", rep.ID, "pdn_code", rep.PDNCode)
}

// Report returns the finalized report for a completed assessment, finalizing
// on demand if no stored report exists yet. A stored report outlives its
// assessment: the TTL sweep removes idle assessments but the snapshot stays
// readable.
func (s *Service) Report(ctx context.Context, userID string) (*domain.Report, error) {
	release := s.locks.acquire(userID)
	defer release()

	rep, err := s.repo.GetReport(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	if rep != nil {
		return rep, nil
	}

	a, err := s.repo.GetAssessment(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptSession) {
			return nil, fmt.Errorf("report for %s: %w", userID, domain.ErrNotCompleted)
		}
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	if a == nil || !a.Completed {
		return nil, fmt.Errorf("report for %s: %w", userID, domain.ErrNotCompleted)
	}

	rep, err = s.finalizer.Finalize(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReportFailed, err)
	}
	if err := s.repo.SaveReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	return rep, nil
}

// SessionInfo describes the current state of a user's assessment.
type SessionInfo struct {
	UserID           string         `json:"user_id"`
	Stage            domain.StageID `json:"stage"`
	StageName        string         `json:"stage_name"`
	StageDescription string         `json:"stage_description"`
	NextStage        domain.StageID `json:"next_stage,omitempty"`
	AnswerCount      int            `json:"answer_count"`
	RequiredAnswers  int            `json:"required_answers"`
	HistoryLength    int            `json:"history_length"`
	Completed        bool           `json:"completed"`
}

// Info returns stage metadata and history length for a user, creating nothing.
// A user without an assessment is reported at the entry stage.
func (s *Service) Info(ctx context.Context, userID string) (*SessionInfo, error) {
	a, err := s.repo.GetAssessment(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrCorruptSession) {
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	if a == nil {
		a = domain.NewAssessment(userID, s.catalog.First().ID)
	}

	def, err := s.catalog.Lookup(a.Stage)
	if err != nil {
		def = s.catalog.First()
	}

	return &SessionInfo{
		UserID:           userID,
		Stage:            def.ID,
		StageName:        def.Name,
		StageDescription: def.Description,
		NextStage:        def.Next,
		AnswerCount:      a.AnswerCount,
		RequiredAnswers:  def.RequiredAnswers,
		HistoryLength:    len(a.Turns),
		Completed:        a.Completed,
	}, nil
}

// History returns the full conversation history for a user. Corrupt persisted
// state reads as empty history; the next message cleans it up and starts fresh.
func (s *Service) History(ctx context.Context, userID string) ([]domain.Turn, error) {
	a, err := s.repo.GetAssessment(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptSession) {
			slog.Warn("Corrupt assessment state, returning empty history", "user_id", userID, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	if a == nil {
		return nil, nil
	}
	return a.Turns, nil
}

// Reset discards a user's assessment so the next message starts fresh at the
// entry stage.
func (s *Service) Reset(ctx context.Context, userID string) error {
	release := s.locks.acquire(userID)
	defer release()

	if err := s.repo.DeleteAssessment(ctx, userID); err != nil {
		return fmt.Errorf("reset assessment: %w", err)
	}
	slog.Info("Assessment reset", "user_id", userID)
	return nil
}

// SetStage forces a user's assessment to the given stage, resetting the
// answer counter. The stage must exist in the catalog.
func (s *Service) SetStage(ctx context.Context, userID string, id domain.StageID) error {
	def, err := s.catalog.Lookup(id)
	if err != nil {
		return err
	}

	release := s.locks.acquire(userID)
	defer release()

	a, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if a.Completed {
		return fmt.Errorf("set stage for %s: %w", userID, domain.ErrAlreadyCompleted)
	}

	prev := a.Stage
	a.Stage = def.ID
	a.AnswerCount = 0
	a.UpdatedAt = time.Now()
	if err := s.repo.SaveAssessment(ctx, a); err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}

	slog.Info("Stage set explicitly", "user_id", userID, "from", prev, "to", def.ID)
	return nil
}

// loadOrCreate returns the user's assessment, starting a fresh one when none
// exists or the persisted state cannot be decoded. Corruption is never fatal:
// an assessment must always be restartable.
func (s *Service) loadOrCreate(ctx context.Context, userID string) (*domain.Assessment, error) {
	a, err := s.repo.GetAssessment(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptSession) {
			slog.Warn("Corrupt assessment state, starting fresh", "user_id", userID, "error", err)
			if delErr := s.repo.DeleteAssessment(ctx, userID); delErr != nil {
				slog.Warn("Failed to delete corrupt assessment", "user_id", userID, "error", delErr)
			}
			return domain.NewAssessment(userID, s.catalog.First().ID), nil
		}
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	if a == nil {
		return domain.NewAssessment(userID, s.catalog.First().ID), nil
	}
	return a, nil
}

func (s *Service) record(userID string, stageID domain.StageID, role domain.Role, content string) {
	if s.transcripts == nil {
		return
	}
	s.transcripts.Record(transcript.Entry{
		UserID:  userID,
		Stage:   stageID,
		Role:    role,
		Content: content,
	})
}
