package services

import (
	"context"
	"errors"
	"testing"

	"rolechat/internal/core/domain"
	"rolechat/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newWorkflow(t *testing.T, store *MockRoleStore, opts RoleTransitionOptions, metrics *recordingMetrics) *RoleTransitionWorkflow {
	t.Helper()
	resolver := NewResourceResolver(store, 0)
	return NewRoleTransitionWorkflow(store, store, resolver, opts, metrics, zaptest.NewLogger(t).Sugar())
}

func TestPromote_Success(t *testing.T) {
	ctx := context.Background()
	store := new(MockRoleStore)
	metrics := newRecordingMetrics()
	wf := newWorkflow(t, store, RoleTransitionOptions{}, metrics)

	store.On("Check", mock.Anything, "alice", "promote", "channel").Return(true, nil)
	store.On("ListResourceInstances", mock.Anything).Return(channelInstances(), nil)
	store.On("AssignRole", mock.Anything, "bob", domain.RoleModerator, "channel:random").Return(nil).Once()
	store.On("AssignRole", mock.Anything, "bob", domain.RoleParticipant, "channel:mod").Return(nil).Once()
	store.On("AssignRole", mock.Anything, "bob", domain.RoleAdmin, "").Return(nil).Once()

	res, err := wf.Promote(ctx, "alice", "bob", "chat:random")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "random", res.Channel)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepAssignToModRoleOnChannel, res.Steps[0].Step)
	assert.Equal(t, StepAssignModChannelRole, res.Steps[1].Step)
	assert.Equal(t, StepAssignAdminRole, res.Steps[2].Step)

	data := res.Data()
	assert.Len(t, data, 3)
	assert.Equal(t, StepSucceeded, data[StepAssignAdminRole].Status)
	assert.Equal(t, 1, metrics.steps["promote/assignAdminRole/ok"])
	store.AssertExpectations(t)
}

func TestPromote_PermissionDeniedMakesNoAssignments(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{}, newRecordingMetrics())

	store.On("Check", mock.Anything, "carol", "promote", "channel").Return(false, nil)

	res, err := wf.Promote(context.Background(), "carol", "bob", "chat:general")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	store.AssertNotCalled(t, "AssignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "ListResourceInstances", mock.Anything)
}

func TestPromote_CheckErrorAborts(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{}, newRecordingMetrics())

	store.On("Check", mock.Anything, "alice", "promote", "channel").Return(false, errors.New("pdp down"))

	_, err := wf.Promote(context.Background(), "alice", "bob", "chat:general")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdp down")
	store.AssertNotCalled(t, "AssignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromote_UnknownChannelMakesNoAssignments(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{}, newRecordingMetrics())

	store.On("Check", mock.Anything, "alice", "promote", "channel").Return(true, nil)
	store.On("ListResourceInstances", mock.Anything).Return(channelInstances(), nil)

	_, err := wf.Promote(context.Background(), "alice", "bob", "chat:nowhere")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	store.AssertNotCalled(t, "AssignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromote_InvalidInput(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{}, newRecordingMetrics())

	_, err := wf.Promote(context.Background(), "", "bob", "chat:general")
	assert.ErrorIs(t, err, domain.ErrMissingClientID)

	_, err = wf.Promote(context.Background(), "alice", "bob", "general")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	_, err = wf.Promote(context.Background(), "alice", "", "chat:general")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	store.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromote_PartialFailureReportsEveryStep(t *testing.T) {
	store := new(MockRoleStore)
	metrics := newRecordingMetrics()
	wf := newWorkflow(t, store, RoleTransitionOptions{}, metrics)

	store.On("Check", mock.Anything, "alice", "promote", "channel").Return(true, nil)
	store.On("ListResourceInstances", mock.Anything).Return(channelInstances(), nil)
	store.On("AssignRole", mock.Anything, "bob", domain.RoleModerator, "channel:general").Return(nil)
	store.On("AssignRole", mock.Anything, "bob", domain.RoleParticipant, "channel:mod").Return(errors.New("boom"))
	store.On("AssignRole", mock.Anything, "bob", domain.RoleAdmin, "").Return(nil)

	res, err := wf.Promote(context.Background(), "alice", "bob", "chat:general")
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepSucceeded, res.Steps[0].Status)
	assert.Equal(t, StepFailed, res.Steps[1].Status)
	assert.Equal(t, "boom", res.Steps[1].Error)
	assert.Equal(t, StepSucceeded, res.Steps[2].Status)
	assert.Empty(t, res.Compensations)
	assert.Equal(t, 1, metrics.steps["promote/assignModChannelRole/failed"])
	store.AssertNotCalled(t, "UnassignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromote_CompensatesInReverseOrder(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{CompensateOnFailure: true}, newRecordingMetrics())

	var undone []domain.RoleName
	store.On("Check", mock.Anything, "alice", "promote", "channel").Return(true, nil)
	store.On("ListResourceInstances", mock.Anything).Return(channelInstances(), nil)
	store.On("AssignRole", mock.Anything, "bob", domain.RoleModerator, "channel:general").Return(nil)
	store.On("AssignRole", mock.Anything, "bob", domain.RoleParticipant, "channel:mod").Return(nil)
	store.On("AssignRole", mock.Anything, "bob", domain.RoleAdmin, "").Return(errors.New("boom"))
	store.On("UnassignRole", mock.Anything, "bob", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { undone = append(undone, args.Get(2).(domain.RoleName)) }).
		Return(nil)

	res, err := wf.Promote(context.Background(), "alice", "bob", "chat:general")
	require.NoError(t, err)
	require.Len(t, res.Compensations, 2)
	assert.Equal(t, "undo:"+StepAssignModChannelRole, res.Compensations[0].Step)
	assert.Equal(t, []domain.RoleName{domain.RoleParticipant, domain.RoleModerator}, undone)
}

func TestDemote_StepOrderWithoutPermissionCheck(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{}, newRecordingMetrics())

	var order []string
	record := func(args mock.Arguments) {
		order = append(order, string(args.Get(2).(domain.RoleName))+"@"+args.String(3))
	}
	store.On("ListResourceInstances", mock.Anything).Return(channelInstances(), nil)
	store.On("UnassignRole", mock.Anything, "bob", mock.Anything, mock.Anything).Run(record).Return(nil)

	res, err := wf.Demote(context.Background(), "anyone", "bob", "chat:general")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, []string{"participant@channel:mod", "moderator@channel:general", "admin@"}, order)
	assert.Equal(t, StepUnassignModChannel, res.Steps[0].Step)
	assert.Equal(t, StepUnassignModRoleOnChannel, res.Steps[1].Step)
	assert.Equal(t, StepUnassignAdminRole, res.Steps[2].Step)
	store.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDemote_RequirePermission(t *testing.T) {
	store := new(MockRoleStore)
	wf := newWorkflow(t, store, RoleTransitionOptions{RequireDemotePermission: true}, newRecordingMetrics())

	store.On("Check", mock.Anything, "carol", "demote", "channel").Return(false, nil)

	_, err := wf.Demote(context.Background(), "carol", "bob", "chat:general")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	store.AssertNotCalled(t, "UnassignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDemoteThenPromote_RestoresModeratorCapability(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRoleStore(domain.DefaultTenant, "general", "random", "mod")
	_, err := store.SyncUser(ctx, domain.UserProfile{Key: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = store.SyncUser(ctx, domain.UserProfile{Key: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, "alice", domain.RoleAdmin, ""))

	wf := NewRoleTransitionWorkflow(store, store, NewResourceResolver(store, 0),
		RoleTransitionOptions{}, nil, zaptest.NewLogger(t).Sugar())

	res, err := wf.Promote(ctx, "alice", "bob", "chat:general")
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	roles, err := store.GetAssignedRoles(ctx, "bob")
	require.NoError(t, err)
	before, _ := ResolveCapability(roles)
	assert.Len(t, before[domain.ChatChannel("general")], 4)
	assert.Len(t, before[domain.ChatChannel("mod")], 3)

	res, err = wf.Demote(ctx, "alice", "bob", "chat:general")
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	roles, err = store.GetAssignedRoles(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, roles)

	res, err = wf.Promote(ctx, "alice", "bob", "chat:general")
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	roles, err = store.GetAssignedRoles(ctx, "bob")
	require.NoError(t, err)
	after, _ := ResolveCapability(roles)
	assert.Equal(t, before, after)
	assert.True(t, domain.HoldsRoleOnAnyChannel(roles, domain.RoleModerator))
}
