package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside/portside/internal/agent"
	"github.com/portside/portside/internal/audit"
	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/internal/config"
	"github.com/portside/portside/internal/store"
	"github.com/portside/portside/models"
)

type fixture struct {
	reconciler *Reconciler
	store      *store.Store
	agentCalls *int64
	owner      *auth.Claims
	admin      *auth.Claims
	stranger   *auth.Claims
}

// newFixture wires a reconciler against a temp bbolt store and a fake
// node agent that returns the given container id for every mutation.
func newFixture(t *testing.T, agentContainerID string) *fixture {
	t.Helper()

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(map[string]string{"containerId": agentContainerID})
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Store.Path = filepath.Join(t.TempDir(), "panel.db")
	cfg.Agent.ReinstallTimeout = 5 * time.Second
	cfg.Agent.EditTimeout = 5 * time.Second
	cfg.Agent.RedeployTimeout = 5 * time.Second
	cfg.Agent.RenameTimeout = time.Second

	st, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	require.NoError(t, st.SaveNode(&models.Node{
		ID: "node-1", Name: "test-node", Address: u.Hostname(), Port: port, APIKey: "key",
	}))
	require.NoError(t, st.SaveImages([]models.ImageCatalogEntry{
		{Name: "Minecraft", Image: "itzg/minecraft-server"},
		{Name: "Nginx", Image: "nginx:latest"},
		{Name: "Redis", Image: "redis:7"},
	}))

	r := New(st, agent.NewClient(cfg), auth.NewChecker(st), audit.NewLogger(st))

	return &fixture{
		reconciler: r,
		store:      st,
		agentCalls: &calls,
		owner:      &auth.Claims{UserID: "user-1", Username: "owner", Roles: []models.Role{models.RoleUser}},
		admin:      &auth.Claims{UserID: "admin-1", Username: "admin", Roles: []models.Role{models.RoleAdmin}},
		stranger:   &auth.Claims{UserID: "user-9", Username: "stranger", Roles: []models.Role{models.RoleUser}},
	}
}

// seed writes an instance record and its two list views. key defaults to
// the instance id; edit tests pass the container id instead.
func (f *fixture) seed(t *testing.T, key string, inst *models.Instance) {
	t.Helper()

	require.NoError(t, f.store.SaveInstance(key, inst))

	userList, err := f.store.UserInstances(inst.UserID)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveUserInstances(inst.UserID, append(userList, *inst)))

	global, err := f.store.GlobalInstances()
	require.NoError(t, err)
	require.NoError(t, f.store.SaveGlobalInstances(append(global, *inst)))
}

func testInstance() *models.Instance {
	return &models.Instance{
		ID:          "vol-1",
		Name:        "lobby",
		UserID:      "user-1",
		NodeID:      "node-1",
		ContainerID: "ct-1",
		Memory:      2048,
		CPU:         2,
		Ports:       "25565:25565,8080:8080",
		Image:       "itzg/minecraft-server",
		Env:         []string{"EULA=true"},
	}
}

// assertViewsAgree checks that the canonical record and both list views
// report the same instance state.
func assertViewsAgree(t *testing.T, st *store.Store, key string, want *models.Instance) {
	t.Helper()

	record, err := st.GetInstance(key)
	require.NoError(t, err)

	userList, err := st.UserInstances(want.UserID)
	require.NoError(t, err)
	global, err := st.GlobalInstances()
	require.NoError(t, err)

	views := map[string]*models.Instance{"record": record}
	for i := range userList {
		if userList[i].ID == want.ID {
			views["user list"] = &userList[i]
		}
	}
	for i := range global {
		if global[i].ID == want.ID {
			views["global list"] = &global[i]
		}
	}
	require.Len(t, views, 3, "instance should appear in all three views")

	for name, view := range views {
		assert.Equal(t, want.Name, view.Name, "%s name", name)
		assert.Equal(t, want.Image, view.Image, "%s image", name)
		assert.Equal(t, want.Memory, view.Memory, "%s memory", name)
		assert.Equal(t, want.CPU, view.CPU, "%s cpu", name)
		assert.Equal(t, want.ContainerID, view.ContainerID, "%s container id", name)
		assert.Equal(t, want.Env, view.Env, "%s env", name)
		assert.Equal(t, want.Suspended, view.Suspended, "%s suspended", name)
	}
}

func TestSetVariableIdempotent(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	ctx := context.Background()

	first, err := f.reconciler.SetVariable(ctx, "vol-1", f.owner, "MOTD", "welcome")
	require.NoError(t, err)

	second, err := f.reconciler.SetVariable(ctx, "vol-1", f.owner, "MOTD", "welcome")
	require.NoError(t, err)

	assert.Equal(t, len(first.Env), len(second.Env), "second apply should not grow the env list")
	value, ok := second.EnvValue("MOTD")
	require.True(t, ok)
	assert.Equal(t, "welcome", value)

	// No remote call for env changes.
	assert.Zero(t, atomic.LoadInt64(f.agentCalls))

	assertViewsAgree(t, f.store, "vol-1", second)
}

func TestSetVariableReplacesExisting(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	inst, err := f.reconciler.SetVariable(context.Background(), "vol-1", f.owner, "EULA", "false")
	require.NoError(t, err)

	assert.Equal(t, []string{"EULA=false"}, inst.Env)
}

func TestRenameRejectsDuplicateName(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	other := testInstance()
	other.ID = "vol-2"
	other.ContainerID = "ct-2"
	other.Name = "taken"
	f.seed(t, "vol-2", other)

	_, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, "taken")

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "name", valErr.Field)
}

func TestRenameToOwnNameSucceeds(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	inst, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "lobby", inst.Name)
}

func TestRenameUpdatesAllViews(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	inst, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, "hub")
	require.NoError(t, err)

	assertViewsAgree(t, f.store, "vol-1", inst)
}

func TestRenameLengthBounds(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	for _, name := range []string{"ab", "this-name-is-far-too-long-to-be-allowed"} {
		_, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, name)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr, "name %q should be rejected", name)
	}
}

func TestRenameCountsRunesNotBytes(t *testing.T) {
	f := newFixture(t, "ct-1")
	f.seed(t, "vol-1", testInstance())

	// 20 runes, 60 bytes.
	name := "サーバーサーバーサーバーサーバーサーバー"

	inst, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, name)
	require.NoError(t, err)
	assert.Equal(t, name, inst.Name)
}

// TestRenameSurvivesAgentFailure verifies the local rename is
// authoritative: a failed agent notification does not roll it back.
func TestRenameSurvivesAgentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t, "unused")
	f.seed(t, "vol-1", testInstance())

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	require.NoError(t, f.store.SaveNode(&models.Node{
		ID: "node-1", Name: "test-node", Address: u.Hostname(), Port: port, APIKey: "key",
	}))

	inst, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", inst.Name)

	stored, err := f.store.GetInstance("vol-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
}

func TestReinstallReplacesContainerID(t *testing.T) {
	f := newFixture(t, "ct-reinstalled")
	f.seed(t, "vol-1", testInstance())

	inst, err := f.reconciler.Reinstall(context.Background(), "vol-1", f.owner)
	require.NoError(t, err)

	assert.Equal(t, "ct-reinstalled", inst.ContainerID)
	assert.Equal(t, "vol-1", inst.ID, "instance id must not change on reinstall")
	assert.ElementsMatch(t, []string{"nginx:latest", "redis:7"}, inst.AltImages)

	assertViewsAgree(t, f.store, "vol-1", inst)
}

func TestReinstallMissingFields(t *testing.T) {
	f := newFixture(t, "ct-x")

	broken := testInstance()
	broken.Image = ""
	f.seed(t, "vol-1", broken)

	_, err := f.reconciler.Reinstall(context.Background(), "vol-1", f.owner)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "image", valErr.Field)
	assert.Zero(t, atomic.LoadInt64(f.agentCalls), "no agent call on validation failure")
}

func TestReinstallAgentFailureLeavesStateUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t, "unused")
	f.seed(t, "vol-1", testInstance())

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	require.NoError(t, f.store.SaveNode(&models.Node{
		ID: "node-1", Name: "test-node", Address: u.Hostname(), Port: port, APIKey: "key",
	}))

	_, err = f.reconciler.Reinstall(context.Background(), "vol-1", f.owner)

	var remoteErr *agent.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusInternalServerError, remoteErr.StatusCode)

	stored, storeErr := f.store.GetInstance("vol-1")
	require.NoError(t, storeErr)
	assert.Equal(t, "ct-1", stored.ContainerID, "failed remote call must not change local state")
}

func TestEditReKeysStorage(t *testing.T) {
	f := newFixture(t, "ct-new")

	inst := testInstance()
	f.seed(t, inst.ContainerID, inst) // edit addresses records by container id

	memory := int64(4096)
	result, err := f.reconciler.Edit(context.Background(), "ct-1", f.admin, &EditChanges{Memory: &memory})
	require.NoError(t, err)

	assert.Equal(t, "ct-1", result.OldContainerID)
	assert.Equal(t, "ct-new", result.NewContainerID)
	assert.Equal(t, map[string]interface{}{"memory": int64(4096)}, result.Changes)

	// Old key is gone, new key holds the updated record.
	_, err = f.store.GetInstance("ct-1")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	assertViewsAgree(t, f.store, "ct-new", result.Instance)
	assert.Equal(t, int64(4096), result.Instance.Memory)
}

func TestEditRequiresAtLeastOneChange(t *testing.T) {
	f := newFixture(t, "ct-new")
	f.seed(t, "ct-1", testInstance())

	_, err := f.reconciler.Edit(context.Background(), "ct-1", f.admin, &EditChanges{})

	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestEditRejectsNonPositiveResources(t *testing.T) {
	f := newFixture(t, "ct-new")
	f.seed(t, "ct-1", testInstance())

	memory := int64(0)
	_, err := f.reconciler.Edit(context.Background(), "ct-1", f.admin, &EditChanges{Memory: &memory})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "memory", valErr.Field)

	cpu := -1.0
	_, err = f.reconciler.Edit(context.Background(), "ct-1", f.admin, &EditChanges{CPU: &cpu})
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "cpu", valErr.Field)
}

func TestChangeImageRetainsPrevious(t *testing.T) {
	f := newFixture(t, "ct-redeployed")
	f.seed(t, "vol-1", testInstance())

	inst, err := f.reconciler.ChangeImage(context.Background(), "vol-1", f.owner, "nginx:latest")
	require.NoError(t, err)

	assert.Equal(t, "nginx:latest", inst.Image)
	assert.Equal(t, "itzg/minecraft-server", inst.PreviousImage)
	assert.Equal(t, "ct-redeployed", inst.ContainerID)
	assert.ElementsMatch(t, []string{"itzg/minecraft-server", "redis:7"}, inst.AltImages)

	assertViewsAgree(t, f.store, "vol-1", inst)
}

func TestChangeImageRejectsUnknownImage(t *testing.T) {
	f := newFixture(t, "ct-x")
	f.seed(t, "vol-1", testInstance())

	_, err := f.reconciler.ChangeImage(context.Background(), "vol-1", f.owner, "not-in-catalog")

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Zero(t, atomic.LoadInt64(f.agentCalls))
}

// TestSuspendedBlocksAllMutations verifies uniform suspension gating:
// every mutating operation, rename included, is rejected without a
// remote call or a local write.
func TestSuspendedBlocksAllMutations(t *testing.T) {
	f := newFixture(t, "ct-x")

	inst := testInstance()
	inst.Suspended = true
	f.seed(t, "vol-1", inst)
	f.seed(t, "ct-1", inst)

	ctx := context.Background()
	memory := int64(4096)

	ops := map[string]func() error{
		"reinstall": func() error { _, err := f.reconciler.Reinstall(ctx, "vol-1", f.owner); return err },
		"edit": func() error {
			_, err := f.reconciler.Edit(ctx, "ct-1", f.admin, &EditChanges{Memory: &memory})
			return err
		},
		"rename":   func() error { _, err := f.reconciler.Rename(ctx, "vol-1", f.owner, "blocked"); return err },
		"variable": func() error { _, err := f.reconciler.SetVariable(ctx, "vol-1", f.owner, "K", "v"); return err },
		"image":    func() error { _, err := f.reconciler.ChangeImage(ctx, "vol-1", f.owner, "nginx:latest"); return err },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			var suspendedErr *SuspendedError
			require.ErrorAs(t, err, &suspendedErr)
		})
	}

	assert.Zero(t, atomic.LoadInt64(f.agentCalls), "suspended instances must not reach the agent")

	stored, err := f.store.GetInstance("vol-1")
	require.NoError(t, err)
	assert.Equal(t, "lobby", stored.Name)
	assert.Equal(t, []string{"EULA=true"}, stored.Env)
}

func TestUnauthorizedUserRejected(t *testing.T) {
	f := newFixture(t, "ct-x")
	f.seed(t, "vol-1", testInstance())

	_, err := f.reconciler.SetVariable(context.Background(), "vol-1", f.stranger, "K", "v")

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "user-9", authErr.UserID)
}

func TestCollaboratorAllowed(t *testing.T) {
	f := newFixture(t, "ct-x")
	f.seed(t, "vol-1", testInstance())
	require.NoError(t, f.store.SaveCollaborators("ct-1", []string{"user-9"}))

	_, err := f.reconciler.SetVariable(context.Background(), "vol-1", f.stranger, "K", "v")
	require.NoError(t, err)
}

func TestMissingInstance(t *testing.T) {
	f := newFixture(t, "ct-x")

	_, err := f.reconciler.Reinstall(context.Background(), "missing", f.owner)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "instance", notFound.Resource)
}

func TestStartupInfo(t *testing.T) {
	f := newFixture(t, "ct-x")
	f.seed(t, "vol-1", testInstance())

	inst, alts, err := f.reconciler.StartupInfo("vol-1", f.owner)
	require.NoError(t, err)
	assert.Equal(t, "itzg/minecraft-server", inst.Image)
	assert.ElementsMatch(t, []string{"nginx:latest", "redis:7"}, alts)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, "ct-x")
	f.seed(t, "vol-1", testInstance())

	_, err := f.reconciler.Rename(context.Background(), "vol-1", f.owner, "audited")
	require.NoError(t, err)

	entries, err := f.store.AuditLog()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "user-1", last.UserID)
	assert.Equal(t, "instance:rename", last.Action)
}
