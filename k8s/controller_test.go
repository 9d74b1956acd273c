package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/klejdi94/promptlib/core"
	v1 "github.com/klejdi94/promptlib/k8s/api/v1"
	"github.com/klejdi94/promptlib/library"
	"github.com/klejdi94/promptlib/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

var syncTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newReconciler(t *testing.T, objs ...*v1.PromptItem) (*PromptItemReconciler, *library.Manager) {
	t.Helper()
	scheme, err := NewScheme()
	require.NoError(t, err)
	b := fake.NewClientBuilder().WithScheme(scheme)
	for _, o := range objs {
		b = b.WithObjects(o).WithStatusSubresource(o)
	}
	lib := library.NewManager(registry.NewMemoryStore())
	return &PromptItemReconciler{
		Client:  b.Build(),
		Scheme:  scheme,
		Library: lib,
		Now:     func() time.Time { return syncTime },
	}, lib
}

func item(name string, spec v1.PromptItemSpec) *v1.PromptItem {
	return &v1.PromptItem{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Generation: 1},
		Spec:       spec,
	}
}

func reconcile(t *testing.T, r *PromptItemReconciler, name string) *v1.PromptItem {
	t.Helper()
	ctx := context.Background()
	key := types.NamespacedName{Namespace: "default", Name: name}
	_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: key})
	require.NoError(t, err)
	got := &v1.PromptItem{}
	require.NoError(t, r.Get(ctx, key, got))
	return got
}

func TestReconcile_CreatesPrompt(t *testing.T) {
	cr := item("greeter", v1.PromptItemSpec{
		DisplayName: "Greeter",
		ItemType:    "snippet",
		Tags:        []string{"a", "a", "b"},
		Content:     "Hello",
	})
	r, lib := newReconciler(t, cr)

	got := reconcile(t, r, "greeter")
	assert.True(t, got.Status.Synced)
	assert.Equal(t, 1, got.Status.Version)
	assert.Equal(t, int64(1), got.Status.ObservedGeneration)
	assert.Equal(t, "2024-06-01T08:00:00Z", got.Status.LastSyncTime)
	assert.Empty(t, got.Status.Message)

	p, err := lib.GetByName(context.Background(), "greeter")
	require.NoError(t, err)
	assert.Equal(t, got.Status.PromptID, p.ID)
	assert.Equal(t, "Greeter", p.DisplayName)
	assert.Equal(t, core.ItemTypeSnippet, p.ItemType)
	assert.Equal(t, []string{"a", "b"}, p.Tags)
	assert.Equal(t, "k8s:default/greeter", p.CurrentVersion.CreatedBy)
}

func TestReconcile_ContentChangePublishesVersion(t *testing.T) {
	ctx := context.Background()
	cr := item("greeter", v1.PromptItemSpec{Name: "lib-greeter", Content: "Hello"})
	r, lib := newReconciler(t, cr)
	reconcile(t, r, "greeter")

	// Unchanged spec is a no-op.
	got := reconcile(t, r, "greeter")
	assert.Equal(t, 1, got.Status.Version)

	got.Spec.Content = "Hello there"
	got.Spec.Description = "friendlier"
	require.NoError(t, r.Update(ctx, got))
	got = reconcile(t, r, "greeter")
	assert.True(t, got.Status.Synced)
	assert.Equal(t, 2, got.Status.Version)

	p, err := lib.GetByName(ctx, "lib-greeter")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", p.Content())
	assert.Equal(t, "friendlier", p.Description)
	assert.Equal(t, core.VersionApproved, p.CurrentVersion.Status)
	assert.Equal(t, Approver, p.CurrentVersion.ApprovedBy)

	versions, err := lib.ListVersions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestReconcile_InvalidSpecRecordsStatus(t *testing.T) {
	cr := item("bad", v1.PromptItemSpec{Content: "x", ItemType: "note"})
	r, _ := newReconciler(t, cr)
	got := reconcile(t, r, "bad")
	assert.False(t, got.Status.Synced)
	assert.Contains(t, got.Status.Message, "item_type")
}

func TestReconcile_MissingObject(t *testing.T) {
	r, _ := newReconciler(t)
	res, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "gone"}})
	assert.NoError(t, err)
	assert.Equal(t, ctrl.Result{}, res)
}

func TestPromptItem_DeepCopy(t *testing.T) {
	cr := item("x", v1.PromptItemSpec{Tags: []string{"a"}})
	cp := cr.DeepCopyObject().(*v1.PromptItem)
	cp.Spec.Tags[0] = "b"
	assert.Equal(t, "a", cr.Spec.Tags[0])
}
