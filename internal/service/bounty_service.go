package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"bounty-orchestrator/internal/api/dto"
	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
	"bounty-orchestrator/internal/memory"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

type BountyService interface {
	Start(ctx context.Context, req dto.StartBountyRequest) (dto.StartBountyResponse, error)
	Status(ctx context.Context, instanceID string) (dto.StatusResponse, error)
	Approve(ctx context.Context, instanceID string) error
	Reject(ctx context.Context, instanceID string) error
	Resume(ctx context.Context, instanceID string) error
	RecordOutcome(ctx context.Context, instanceID string, req dto.OutcomeRequest) (dto.StatusResponse, error)
	SearchLearnings(ctx context.Context, query, category string, limit int) ([]domain.ScoredLearning, error)
	ListBounties(ctx context.Context, phase string) ([]dto.BountySummary, error)
	ListRepos(ctx context.Context) ([]domain.RepoProfile, error)
	GetRepo(ctx context.Context, key string) (*domain.RepoProfile, error)
	SyncRepo(ctx context.Context, repoURL string) (dto.SyncRepoResponse, error)
	Gotchas(ctx context.Context, key string) ([]string, error)
	UserPreferences(ctx context.Context, userID string) (json.RawMessage, error)
	SaveUserPreferences(ctx context.Context, userID string, prefs json.RawMessage) error
}

// OutcomeRecorder stores a reported submission outcome.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, instanceID string, outcome domain.Outcome, feedback string) (domain.Checkpoint, error)
}

// Deps are the collaborators of the service. Bus may be nil, in which case
// run jobs are queued directly.
type Deps struct {
	Checkpoints ports.CheckpointStore
	Memory      *memory.Manager
	Recorder    OutcomeRecorder
	Queue       ports.RunQueue
	Bus         ports.EventBus
}

// The Implementation
type bountyService struct {
	checkpoints ports.CheckpointStore
	memory      *memory.Manager
	recorder    OutcomeRecorder
	queue       ports.RunQueue
	bus         ports.EventBus
	log         *slog.Logger
	now         func() time.Time
}

// Constructor
func NewBountyService(deps Deps, log *slog.Logger) BountyService {
	return &bountyService{
		checkpoints: deps.Checkpoints,
		memory:      deps.Memory,
		recorder:    deps.Recorder,
		queue:       deps.Queue,
		bus:         deps.Bus,
		log:         logging.OrNop(log).With("component", "service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewSessionID returns the executor conversation id of an instance.
func NewSessionID(instanceID string) string {
	return fmt.Sprintf("bounty-%s-%s", instanceID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *bountyService) Start(ctx context.Context, req dto.StartBountyRequest) (dto.StartBountyResponse, error) {
	req.SourceReference = strings.TrimSpace(req.SourceReference)
	req.Target = strings.TrimSpace(req.Target)
	if req.SourceReference == "" || req.Target == "" {
		return dto.StartBountyResponse{}, fmt.Errorf("%w: source_reference and target are required", domain.ErrInvalidInput)
	}
	id := strings.TrimSpace(req.InstanceID)
	if id == "" {
		id = uuid.NewString()
	}

	// 1. Refuse ids that already have a lineage
	_, err := s.checkpoints.Get(ctx, id)
	switch {
	case err == nil:
		return dto.StartBountyResponse{}, fmt.Errorf("instance %s: %w", id, domain.ErrAlreadyExists)
	case !errors.Is(err, domain.ErrNotFound):
		return dto.StartBountyResponse{}, err
	}

	// 2. Persist the initial checkpoint at phase A
	session := NewSessionID(id)
	inst := domain.NewInstance(id, req.SourceReference, req.Target, domain.TargetKey(req.Target), session, s.now())
	if err := s.checkpoints.Put(ctx, id, inst, domain.NodeAnalyze); err != nil {
		return dto.StartBountyResponse{}, err
	}

	// 3. QUEUE: a worker runs it up to the approval gate
	if err := s.queue.Push(ctx, domain.NewRunJob(id)); err != nil {
		return dto.StartBountyResponse{}, fmt.Errorf("queue run for %s: %w", id, err)
	}
	s.log.Info("bounty started", "instance_id", id, "target", req.Target, "session_id", session)

	return dto.StartBountyResponse{Status: "analyzing", InstanceID: id, SessionID: session}, nil
}

func (s *bountyService) Status(ctx context.Context, instanceID string) (dto.StatusResponse, error) {
	cp, err := s.checkpoints.Get(ctx, instanceID)
	if err != nil {
		return dto.StatusResponse{}, err
	}
	return dto.StatusOf(cp), nil
}

// Approve records approval of an instance parked at the approval gate and
// schedules its resumption.
func (s *bountyService) Approve(ctx context.Context, instanceID string) error {
	cp, err := s.checkpoints.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if cp.NextNode != domain.NodeApprovalGate || cp.State.Phase != domain.PhasePlanned {
		return fmt.Errorf("instance %s at %s in phase %s: %w", instanceID, cp.PendingNode(), cp.State.Phase, domain.ErrNotAwaitingApproval)
	}

	cp, err = s.checkpoints.Update(ctx, instanceID, domain.CheckpointPatch{
		Approved: domain.Ptr(true),
		Phase:    domain.Ptr(domain.PhaseApproved),
	})
	if err != nil {
		return err
	}
	s.log.Info("bounty approved", "instance_id", instanceID)
	return s.schedule(ctx, domain.EventApprovalRecorded, cp)
}

// Reject ends an instance before execution. It is not resumed.
func (s *bountyService) Reject(ctx context.Context, instanceID string) error {
	cp, err := s.checkpoints.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if cp.State.IsFinished() {
		return fmt.Errorf("%w: instance %s already finished with %q", domain.ErrInvalidTransition, instanceID, cp.State.Outcome)
	}

	cp, err = s.checkpoints.Update(ctx, instanceID, domain.CheckpointPatch{
		Approved: domain.Ptr(false),
		Phase:    domain.Ptr(domain.PhaseTerminal),
		Outcome:  domain.Ptr(domain.OutcomeRejected),
		NextNode: domain.Ptr(domain.NodeNone),
	})
	if err != nil {
		return err
	}
	s.log.Info("bounty rejected", "instance_id", instanceID)
	s.publish(ctx, domain.EventCompleted, cp)
	return nil
}

// Resume re-queues an instance whose last run failed.
func (s *bountyService) Resume(ctx context.Context, instanceID string) error {
	cp, err := s.checkpoints.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if cp.IsComplete() {
		return fmt.Errorf("%w: instance %s is complete", domain.ErrInvalidTransition, instanceID)
	}
	return s.schedule(ctx, domain.EventResumeRequested, cp)
}

func (s *bountyService) RecordOutcome(ctx context.Context, instanceID string, req dto.OutcomeRequest) (dto.StatusResponse, error) {
	cp, err := s.recorder.RecordOutcome(ctx, instanceID, req.Outcome, req.Feedback)
	if err != nil {
		return dto.StatusResponse{}, err
	}
	s.publish(ctx, domain.EventCompleted, cp)
	return dto.StatusOf(cp), nil
}

func (s *bountyService) SearchLearnings(ctx context.Context, query, category string, limit int) ([]domain.ScoredLearning, error) {
	cat := domain.LearningCategory(category)
	if cat != "" && !cat.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, category)
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}
	return s.memory.SearchLearnings(ctx, query, cat, limit)
}

// ListBounties returns instances oldest first, optionally only those in phase.
func (s *bountyService) ListBounties(ctx context.Context, phase string) ([]dto.BountySummary, error) {
	want := domain.Phase(strings.ToUpper(strings.TrimSpace(phase)))
	if want != "" && !want.Valid() {
		return nil, fmt.Errorf("%w: unknown phase %q", domain.ErrInvalidInput, phase)
	}
	cps, err := s.checkpoints.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(cps, func(a, b domain.Checkpoint) int {
		return cmp.Compare(a.State.CreatedAt.UnixNano(), b.State.CreatedAt.UnixNano())
	})

	out := make([]dto.BountySummary, 0, len(cps))
	for _, cp := range cps {
		if want != "" && cp.State.Phase != want {
			continue
		}
		out = append(out, dto.SummaryOf(cp))
	}
	return out, nil
}

func (s *bountyService) ListRepos(ctx context.Context) ([]domain.RepoProfile, error) {
	return s.memory.ListRepos(ctx)
}

func (s *bountyService) GetRepo(ctx context.Context, key string) (*domain.RepoProfile, error) {
	return s.memory.RepoProfile(ctx, key)
}

// SyncRepo queues a knowledge sync for repoURL and returns the key the
// profile will be stored under.
func (s *bountyService) SyncRepo(ctx context.Context, repoURL string) (dto.SyncRepoResponse, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return dto.SyncRepoResponse{}, fmt.Errorf("%w: repo_url is required", domain.ErrInvalidInput)
	}
	if err := s.queue.Push(ctx, domain.NewSyncJob(repoURL)); err != nil {
		return dto.SyncRepoResponse{}, fmt.Errorf("queue sync for %s: %w", repoURL, err)
	}
	return dto.SyncRepoResponse{Status: "queued", TargetKey: domain.TargetKey(repoURL)}, nil
}

func (s *bountyService) Gotchas(ctx context.Context, key string) ([]string, error) {
	return s.memory.RepoGotchas(ctx, key, "")
}

func (s *bountyService) UserPreferences(ctx context.Context, userID string) (json.RawMessage, error) {
	return s.memory.UserPreferences(ctx, userID)
}

func (s *bountyService) SaveUserPreferences(ctx context.Context, userID string, prefs json.RawMessage) error {
	return s.memory.SaveUserPreferences(ctx, userID, prefs)
}

// schedule asks for a run of cp's instance through the event bus. Without a
// bus, or when no coordinator received the event, the run job is queued
// directly.
func (s *bountyService) schedule(ctx context.Context, typ domain.InstanceEventType, cp domain.Checkpoint) error {
	if s.bus != nil {
		err := s.bus.Publish(ctx, event(typ, cp, s.now()))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ports.ErrNoSubscribers):
			s.log.Info("no coordinator listening, queueing run directly", "instance_id", cp.InstanceID, "type", typ)
		default:
			s.log.Warn("event publish failed, queueing run directly", "instance_id", cp.InstanceID, "type", typ, "error", err)
		}
	}
	if err := s.queue.Push(ctx, domain.NewRunJob(cp.InstanceID)); err != nil {
		return fmt.Errorf("queue run for %s: %w", cp.InstanceID, err)
	}
	return nil
}

func (s *bountyService) publish(ctx context.Context, typ domain.InstanceEventType, cp domain.Checkpoint) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(ctx, event(typ, cp, s.now()))
	if err != nil && !errors.Is(err, ports.ErrNoSubscribers) {
		s.log.Warn("event publish failed", "instance_id", cp.InstanceID, "type", typ, "error", err)
	}
}

func event(typ domain.InstanceEventType, cp domain.Checkpoint, at time.Time) domain.InstanceEvent {
	return domain.InstanceEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		InstanceID: cp.InstanceID,
		Phase:      cp.State.Phase,
		NextNode:   cp.NextNode,
		Outcome:    cp.State.Outcome,
		At:         at,
	}
}
