package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pdnlabs/pdn-chat/internal/domain"
	"github.com/pdnlabs/pdn-chat/internal/oracle"
	"github.com/pdnlabs/pdn-chat/internal/report"
	"github.com/pdnlabs/pdn-chat/internal/stage"
)

// memRepo is an in-memory Repository for service tests. It stores clones so
// mutations after save cannot leak back, matching real serialization.
type memRepo struct {
	mu          sync.Mutex
	assessments map[string]*domain.Assessment
	reports     map[string]*domain.Report
	corrupt     map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		assessments: make(map[string]*domain.Assessment),
		reports:     make(map[string]*domain.Report),
		corrupt:     make(map[string]bool),
	}
}

func (m *memRepo) GetAssessment(_ context.Context, userID string) (*domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.corrupt[userID] {
		return nil, fmt.Errorf("%w: decode turns for %s", domain.ErrCorruptSession, userID)
	}
	a, ok := m.assessments[userID]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (m *memRepo) SaveAssessment(_ context.Context, a *domain.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[a.UserID] = a.Clone()
	return nil
}

func (m *memRepo) DeleteAssessment(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assessments, userID)
	delete(m.reports, userID)
	delete(m.corrupt, userID)
	return nil
}

func (m *memRepo) GetReport(_ context.Context, userID string) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[userID], nil
}

func (m *memRepo) SaveReport(_ context.Context, r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.UserID] = r
	return nil
}

func (m *memRepo) CleanupExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := time.Now().Add(-ttl)
	var deleted int64
	for id, a := range m.assessments {
		if a.UpdatedAt.Before(threshold) {
			delete(m.assessments, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

// scriptOracle returns queued results in order; once drained it replies with
// a fixed acknowledgement.
type scriptOracle struct {
	mu      sync.Mutex
	queue   []*oracle.Result
	errs    []error
	calls   int
	failAll error
}

func (o *scriptOracle) Complete(_ context.Context, _ []domain.Turn) (*oracle.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.failAll != nil {
		return nil, o.failAll
	}
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(o.queue) > 0 {
		res := o.queue[0]
		o.queue = o.queue[1:]
		return res, nil
	}
	return &oracle.Result{Text: "Noted, tell me more."}, nil
}

func newTestService(t *testing.T, repo *memRepo, oc oracle.Client) *Service {
	t.Helper()
	catalog, err := stage.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return NewService(repo, catalog, oc, report.NewFinalizer(catalog), time.Second)
}

func TestCounterAdvancesStageAtRequiredCount(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &scriptOracle{})
	ctx := context.Background()

	res, err := svc.HandleMessage(ctx, "user-1", "", "1")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Stage != domain.StageAPET || res.StageChanged {
		t.Errorf("after first message: stage=%s changed=%v, want ap_et unchanged", res.Stage, res.StageChanged)
	}

	a, _ := repo.GetAssessment(ctx, "user-1")
	if a.AnswerCount != 1 {
		t.Errorf("answer count = %d, want 1", a.AnswerCount)
	}

	res, err = svc.HandleMessage(ctx, "user-1", "", "2")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Stage != domain.StagePersonality || !res.StageChanged {
		t.Errorf("after second message: stage=%s changed=%v, want personality changed", res.Stage, res.StageChanged)
	}

	a, _ = repo.GetAssessment(ctx, "user-1")
	if a.AnswerCount != 0 {
		t.Errorf("answer count after transition = %d, want 0", a.AnswerCount)
	}

	// Exactly 1 system + 2 user + 2 assistant turns; the next stage's prompt
	// is injected lazily on the next message.
	var system, user, assistant int
	for _, turn := range a.Turns {
		switch turn.Role {
		case domain.RoleSystem:
			system++
		case domain.RoleUser:
			user++
		case domain.RoleAssistant:
			assistant++
		}
	}
	if system != 1 || user != 2 || assistant != 2 {
		t.Errorf("history has system=%d user=%d assistant=%d, want 1/2/2", system, user, assistant)
	}
}

func TestFullChainReachesCompletionInFixedOrder(t *testing.T) {
	repo := newMemRepo()
	oc := &scriptOracle{}
	svc := newTestService(t, repo, oc)
	ctx := context.Background()

	wantOrder := []domain.StageID{
		domain.StageAPET,
		domain.StagePersonality,
		domain.StageEnergy,
		domain.StageReinforcement,
		domain.StageFinal,
	}

	var transitions int
	visited := []domain.StageID{domain.StageAPET}

	for i := 0; i < 20; i++ {
		res, err := svc.HandleMessage(ctx, "user-1", "", fmt.Sprintf("answer %d", i))
		if err != nil {
			t.Fatalf("HandleMessage %d failed: %v", i, err)
		}
		if res.StageChanged {
			transitions++
			if !res.Completed {
				visited = append(visited, res.Stage)
			}
		}
		if res.Completed {
			break
		}
	}

	a, _ := repo.GetAssessment(ctx, "user-1")
	if !a.Completed {
		t.Fatal("assessment never completed")
	}
	// 2+2+2+2 answers to traverse four stages, then 1 in the final stage.
	if oc.calls != 9 {
		t.Errorf("oracle calls = %d, want 9", oc.calls)
	}
	// Four stage-to-stage transitions plus the terminal completion.
	if transitions != 5 {
		t.Errorf("transitions = %d, want 5", transitions)
	}

	if len(visited) != len(wantOrder) {
		t.Fatalf("visited stages = %v, want %v", visited, wantOrder)
	}
	for i, want := range wantOrder {
		if visited[i] != want {
			t.Errorf("stage order[%d] = %s, want %s", i, visited[i], want)
		}
	}

	rep, _ := repo.GetReport(ctx, "user-1")
	if rep == nil {
		t.Error("expected report to be generated on completion")
	}
}

func TestSentinelShortCircuitsCounter(t *testing.T) {
	repo := newMemRepo()
	oc := &scriptOracle{queue: []*oracle.Result{
		{Text: "", Advance: true},
	}}
	svc := newTestService(t, repo, oc)

	res, err := svc.HandleMessage(context.Background(), "user-1", "", "hello")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.StageChanged || res.Stage != domain.StagePersonality {
		t.Errorf("stage=%s changed=%v, want personality changed on first turn", res.Stage, res.StageChanged)
	}
	// An empty sentinel-only reply is not an error.
	if res.Reply != "" {
		t.Errorf("reply = %q, want empty", res.Reply)
	}
}

func TestOracleFailureLeavesStateUntouched(t *testing.T) {
	repo := newMemRepo()
	oc := &scriptOracle{}
	svc := newTestService(t, repo, oc)
	ctx := context.Background()

	if _, err := svc.HandleMessage(ctx, "user-1", "", "first"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	before, _ := repo.GetAssessment(ctx, "user-1")
	beforeJSON, _ := json.Marshal(before)

	oc.failAll = fmt.Errorf("%w: quota exceeded", domain.ErrOracleUnavailable)
	_, err := svc.HandleMessage(ctx, "user-1", "", "second")
	if !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}

	after, _ := repo.GetAssessment(ctx, "user-1")
	afterJSON, _ := json.Marshal(after)
	if string(beforeJSON) != string(afterJSON) {
		t.Errorf("state mutated by failed turn:\nbefore: %s\nafter:  %s", beforeJSON, afterJSON)
	}

	// Retry succeeds and appends exactly one user/assistant pair.
	oc.failAll = nil
	if _, err := svc.HandleMessage(ctx, "user-1", "", "second"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	final, _ := repo.GetAssessment(ctx, "user-1")
	if len(final.Turns) != len(before.Turns)+2 {
		t.Errorf("turns = %d, want %d", len(final.Turns), len(before.Turns)+2)
	}
}

func TestCompletedAssessmentNeverTransitionsAgain(t *testing.T) {
	repo := newMemRepo()
	oc := &scriptOracle{}
	svc := newTestService(t, repo, oc)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := svc.HandleMessage(ctx, "user-1", "", "answer"); err != nil {
			t.Fatalf("HandleMessage %d failed: %v", i, err)
		}
	}
	a, _ := repo.GetAssessment(ctx, "user-1")
	if !a.Completed {
		t.Fatal("assessment should be completed after 9 answers")
	}

	res, err := svc.HandleMessage(ctx, "user-1", "", "one more thing")
	if err != nil {
		t.Fatalf("post-completion message failed: %v", err)
	}
	if res.StageChanged {
		t.Error("completed assessment must not transition")
	}
	if res.Stage != domain.StageFinal || !res.Completed {
		t.Errorf("stage=%s completed=%v, want final/true", res.Stage, res.Completed)
	}
}

func TestResetStartsFresh(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &scriptOracle{})
	ctx := context.Background()

	// Advance into a later stage.
	for i := 0; i < 5; i++ {
		if _, err := svc.HandleMessage(ctx, "user-1", "", "answer"); err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
	}
	info, _ := svc.Info(ctx, "user-1")
	if info.Stage != domain.StageEnergy {
		t.Fatalf("expected to be mid-way at energy, got %s", info.Stage)
	}

	if err := svc.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	info, err := svc.Info(ctx, "user-1")
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Stage != domain.StageAPET || info.HistoryLength != 0 {
		t.Errorf("after reset: stage=%s history=%d, want ap_et with empty history", info.Stage, info.HistoryLength)
	}
}

func TestCorruptStateRecoversWithFreshAssessment(t *testing.T) {
	repo := newMemRepo()
	repo.corrupt["user-1"] = true
	svc := newTestService(t, repo, &scriptOracle{})

	res, err := svc.HandleMessage(context.Background(), "user-1", "", "hello")
	if err != nil {
		t.Fatalf("HandleMessage on corrupt state failed: %v", err)
	}
	if res.Stage != domain.StageAPET {
		t.Errorf("stage = %s, want fresh assessment at ap_et", res.Stage)
	}
}

func TestHistoryOnCorruptStateIsEmpty(t *testing.T) {
	repo := newMemRepo()
	repo.corrupt["user-1"] = true
	svc := newTestService(t, repo, &scriptOracle{})

	turns, err := svc.History(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("History on corrupt state failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("history = %d turns, want empty", len(turns))
	}
}

func TestReportOutlivesSweptAssessment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &scriptOracle{})
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := svc.HandleMessage(ctx, "user-1", "", "answer"); err != nil {
			t.Fatalf("HandleMessage %d failed: %v", i, err)
		}
	}

	// Age the assessment past the TTL and sweep; only the assessment goes.
	repo.mu.Lock()
	repo.assessments["user-1"].UpdatedAt = time.Now().Add(-48 * time.Hour)
	repo.mu.Unlock()
	if _, err := repo.CleanupExpired(ctx, 24*time.Hour); err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if a, _ := repo.GetAssessment(ctx, "user-1"); a != nil {
		t.Fatal("assessment should have been swept")
	}

	rep, err := svc.Report(ctx, "user-1")
	if err != nil {
		t.Fatalf("Report after sweep failed: %v", err)
	}
	if rep == nil {
		t.Fatal("stored report lost after sweep")
	}
}

func TestSetStageOnCompletedAssessment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &scriptOracle{})
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := svc.HandleMessage(ctx, "user-1", "", "answer"); err != nil {
			t.Fatalf("HandleMessage %d failed: %v", i, err)
		}
	}

	err := svc.SetStage(ctx, "user-1", domain.StageEnergy)
	if !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestSetStageValidatesAgainstCatalog(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &scriptOracle{})
	ctx := context.Background()

	if err := svc.SetStage(ctx, "user-1", "bogus"); !errors.Is(err, domain.ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}

	if err := svc.SetStage(ctx, "user-1", domain.StageEnergy); err != nil {
		t.Fatalf("SetStage failed: %v", err)
	}
	info, _ := svc.Info(ctx, "user-1")
	if info.Stage != domain.StageEnergy || info.AnswerCount != 0 {
		t.Errorf("stage=%s count=%d, want energy with reset counter", info.Stage, info.AnswerCount)
	}
}

func TestReportIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	oc := &scriptOracle{queue: []*oracle.Result{
		{Text: "q1"}, {Text: "q2 done", Data: map[string]string{"ap_et_lean": "AP"}},
		{Text: "q3"}, {Text: "q4"},
		{Text: "q5"}, {Text: "q6"},
		{Text: "q7"}, {Text: "q8"},
		{Text: "Your code is ASN.", Advance: true, Data: map[string]string{"pdn_code": "ASN"}},
	}}
	svc := newTestService(t, repo, oc)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := svc.HandleMessage(ctx, "user-1", "he", "answer"); err != nil {
			t.Fatalf("HandleMessage %d failed: %v", i, err)
		}
	}

	first, err := svc.Report(ctx, "user-1")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	second, err := svc.Report(ctx, "user-1")
	if err != nil {
		t.Fatalf("second Report failed: %v", err)
	}

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Errorf("report not idempotent:\nfirst:  %s\nsecond: %s", firstJSON, secondJSON)
	}
	if first.PDNCode != "ASN" {
		t.Errorf("PDN code = %q, want ASN", first.PDNCode)
	}
}

func TestReportBeforeCompletion(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &scriptOracle{})
	ctx := context.Background()

	if _, err := svc.HandleMessage(ctx, "user-1", "", "hello"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if _, err := svc.Report(ctx, "user-1"); !errors.Is(err, domain.ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}
}
