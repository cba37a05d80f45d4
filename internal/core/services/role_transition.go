package services

import (
	"context"
	"fmt"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/tracing"
	"rolechat/pkg/validation"

	"go.uber.org/zap"
)

const (
	WorkflowPromote = "promote"
	WorkflowDemote  = "demote"
)

// Step result keys as returned to HTTP callers.
const (
	StepAssignModChannelRole     = "assignModChannelRole"
	StepAssignToModRoleOnChannel = "assignToModRoleOnChannel"
	StepAssignAdminRole          = "assignAdminRole"

	StepUnassignModRoleOnChannel = "unassignModRoleOnChannel"
	StepUnassignModChannel       = "unassignModChannel"
	StepUnassignAdminRole        = "unassignAdminRole"
)

type StepStatus string

const (
	StepSucceeded StepStatus = "fulfilled"
	StepFailed    StepStatus = "rejected"
)

// StepResult is the outcome of one assignment change.
type StepResult struct {
	Step             string          `json:"step"`
	Status           StepStatus      `json:"status"`
	Role             domain.RoleName `json:"role"`
	ResourceInstance string          `json:"resource_instance,omitempty"`
	Error            string          `json:"error,omitempty"`

	assign bool
}

// TransitionResult aggregates every step of a promote or demote, in the
// order the steps were executed.
type TransitionResult struct {
	Workflow      string       `json:"workflow"`
	UserKey       string       `json:"user"`
	Channel       string       `json:"channel"`
	Steps         []StepResult `json:"steps"`
	Compensations []StepResult `json:"compensations,omitempty"`
}

// Data returns the step results keyed by step name.
func (r *TransitionResult) Data() map[string]StepResult {
	data := make(map[string]StepResult, len(r.Steps))
	for _, s := range r.Steps {
		data[s.Step] = s
	}
	return data
}

func (r *TransitionResult) Succeeded() bool {
	for _, s := range r.Steps {
		if s.Status != StepSucceeded {
			return false
		}
	}
	return true
}

type RoleTransitionOptions struct {
	// CompensateOnFailure reverts the steps that succeeded when a later or
	// earlier sibling step failed.
	CompensateOnFailure bool
	// RequireDemotePermission applies the promote policy check to demote.
	RequireDemotePermission bool
}

// RoleTransitionWorkflow promotes users to and demotes them from moderator
// on a channel. Steps run sequentially without locking; concurrent
// transitions on the same user are last-writer-wins.
type RoleTransitionWorkflow struct {
	store    ports.RoleStore
	policy   ports.PolicyChecker
	resolver *ResourceResolver
	opts     RoleTransitionOptions
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewRoleTransitionWorkflow(
	store ports.RoleStore,
	policy ports.PolicyChecker,
	resolver *ResourceResolver,
	opts RoleTransitionOptions,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *RoleTransitionWorkflow {
	return &RoleTransitionWorkflow{
		store:    store,
		policy:   policy,
		resolver: resolver,
		opts:     opts,
		metrics:  metricsOrNop(metrics),
		logger:   logger,
	}
}

type plannedStep struct {
	name     string
	role     domain.RoleName
	instance string
	assign   bool
}

// Promote grants userKey moderator on the channel named by channelToken
// ("chat:<key>"), participant on the mod channel and the global admin role.
// The actor must pass the promote policy check before anything changes.
func (w *RoleTransitionWorkflow) Promote(ctx context.Context, actorKey, userKey, channelToken string) (*TransitionResult, error) {
	channelKey, err := w.validate(actorKey, userKey, channelToken)
	if err != nil {
		return nil, err
	}

	if err := w.authorize(ctx, actorKey, domain.PolicyActionPromote); err != nil {
		return nil, err
	}

	channel, mod, err := w.resolver.ResolveWithMod(ctx, channelKey)
	if err != nil {
		return nil, err
	}

	plan := []plannedStep{
		{StepAssignToModRoleOnChannel, domain.RoleModerator, domain.ChannelInstance(channel.Key), true},
		{StepAssignModChannelRole, domain.RoleParticipant, domain.ChannelInstance(mod.Key), true},
		{StepAssignAdminRole, domain.RoleAdmin, "", true},
	}
	return w.run(ctx, WorkflowPromote, userKey, channelKey, plan), nil
}

// Demote reverses Promote: participant on the mod channel, moderator on the
// channel, then the global admin role.
func (w *RoleTransitionWorkflow) Demote(ctx context.Context, actorKey, userKey, channelToken string) (*TransitionResult, error) {
	channelKey, err := w.validate(actorKey, userKey, channelToken)
	if err != nil {
		return nil, err
	}

	if w.opts.RequireDemotePermission {
		if err := w.authorize(ctx, actorKey, domain.PolicyActionDemote); err != nil {
			return nil, err
		}
	}

	channel, mod, err := w.resolver.ResolveWithMod(ctx, channelKey)
	if err != nil {
		return nil, err
	}

	plan := []plannedStep{
		{StepUnassignModChannel, domain.RoleParticipant, domain.ChannelInstance(mod.Key), false},
		{StepUnassignModRoleOnChannel, domain.RoleModerator, domain.ChannelInstance(channel.Key), false},
		{StepUnassignAdminRole, domain.RoleAdmin, "", false},
	}
	return w.run(ctx, WorkflowDemote, userKey, channelKey, plan), nil
}

func (w *RoleTransitionWorkflow) validate(actorKey, userKey, channelToken string) (string, error) {
	if actorKey == "" {
		return "", domain.ErrMissingClientID
	}
	if err := validation.ValidateUserKey(userKey); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	key, err := validation.ValidateChannelToken(channelToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return key, nil
}

func (w *RoleTransitionWorkflow) authorize(ctx context.Context, actorKey, action string) error {
	allowed, err := w.policy.Check(ctx, actorKey, action, domain.ResourceTypeChannel)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !allowed {
		w.logger.Infow("Role transition refused", "actor", actorKey, "action", action)
		return fmt.Errorf("%w: %s may not %s", domain.ErrPermissionDenied, actorKey, action)
	}
	return nil
}

func (w *RoleTransitionWorkflow) run(ctx context.Context, workflow, userKey, channelKey string, plan []plannedStep) *TransitionResult {
	start := time.Now()
	result := &TransitionResult{
		Workflow: workflow,
		UserKey:  userKey,
		Channel:  channelKey,
		Steps:    make([]StepResult, 0, len(plan)),
	}

	for _, step := range plan {
		result.Steps = append(result.Steps, w.execute(ctx, workflow, userKey, step))
	}

	if !result.Succeeded() && w.opts.CompensateOnFailure {
		result.Compensations = w.compensate(ctx, workflow, userKey, result.Steps)
	}

	w.logger.Infow("Role transition finished",
		"workflow", workflow,
		"user", userKey,
		"channel", channelKey,
		"succeeded", result.Succeeded(),
		"compensated", len(result.Compensations),
		"duration", time.Since(start),
	)
	return result
}

func (w *RoleTransitionWorkflow) execute(ctx context.Context, workflow, userKey string, step plannedStep) StepResult {
	ctx, span := tracing.TraceRoleStep(ctx, workflow, step.name, userKey)
	defer span.End()

	var err error
	if step.assign {
		err = w.store.AssignRole(ctx, userKey, step.role, step.instance)
	} else {
		err = w.store.UnassignRole(ctx, userKey, step.role, step.instance)
	}

	res := StepResult{
		Step:             step.name,
		Status:           StepSucceeded,
		Role:             step.role,
		ResourceInstance: step.instance,
		assign:           step.assign,
	}
	if err != nil {
		res.Status = StepFailed
		res.Error = err.Error()
		tracing.RecordError(ctx, err)
		w.logger.Warnw("Role step failed",
			"workflow", workflow,
			"step", step.name,
			"user", userKey,
			"role", step.role,
			"resource_instance", step.instance,
			"error", err,
		)
	}
	w.metrics.RecordRoleStep(workflow, step.name, err == nil)
	return res
}

// compensate inverts the successful steps in reverse order. Compensation
// failures are reported but never retried here.
func (w *RoleTransitionWorkflow) compensate(ctx context.Context, workflow, userKey string, steps []StepResult) []StepResult {
	var out []StepResult
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.Status != StepSucceeded {
			continue
		}
		out = append(out, w.execute(ctx, workflow+".compensate", userKey, plannedStep{
			name:     "undo:" + s.Step,
			role:     s.Role,
			instance: s.ResourceInstance,
			assign:   !s.assign,
		}))
	}
	return out
}
