// Package k8s provides a Kubernetes controller that syncs PromptItem CRs into the prompt library.
package k8s

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/klejdi94/promptlib/core"
	v1 "github.com/klejdi94/promptlib/k8s/api/v1"
	"github.com/klejdi94/promptlib/library"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Approver is recorded as approved_by on versions published by the operator.
const Approver = "prompt-operator"

// PromptItemReconciler reconciles PromptItem CRs into a library.
type PromptItemReconciler struct {
	client.Client
	Scheme  *runtime.Scheme
	Library *library.Manager
	// Now stamps status.lastSyncTime; defaults to time.Now.
	Now func() time.Time
}

// Reconcile creates the library prompt on first sight, publishes a new
// approved version when spec.content changes and mirrors the descriptive
// fields; then updates status.
func (r *PromptItemReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	cr := &v1.PromptItem{}
	if err := r.Get(ctx, req.NamespacedName, cr); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	p, err := r.sync(ctx, cr)
	if err != nil {
		logger.Error(err, "failed to sync prompt item")
		cr.Status.Synced = false
		cr.Status.Message = err.Error()
		_ = r.Status().Update(ctx, cr)
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			// Retrying cannot fix an invalid spec; the next edit triggers a new reconcile.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	cr.Status.PromptID = p.ID
	if p.CurrentVersion != nil {
		cr.Status.Version = p.CurrentVersion.VersionNumber
	}
	cr.Status.Synced = true
	cr.Status.ObservedGeneration = cr.Generation
	cr.Status.LastSyncTime = r.now().UTC().Format(time.RFC3339)
	cr.Status.Message = ""
	if err := r.Status().Update(ctx, cr); err != nil {
		return ctrl.Result{}, err
	}
	logger.Info("synced prompt item to library", "id", p.ID, "name", p.Name, "version", cr.Status.Version)
	return ctrl.Result{}, nil
}

func (r *PromptItemReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func itemName(cr *v1.PromptItem) string {
	if cr.Spec.Name != "" {
		return cr.Spec.Name
	}
	return cr.Name
}

func (r *PromptItemReconciler) sync(ctx context.Context, cr *v1.PromptItem) (*core.Prompt, error) {
	name := itemName(cr)
	author := fmt.Sprintf("k8s:%s/%s", cr.Namespace, cr.Name)
	p, err := r.Library.GetByName(ctx, name)
	if errors.Is(err, core.ErrNotFound) {
		return r.Library.Create(ctx, library.CreateParams{
			Name:        name,
			DisplayName: cr.Spec.DisplayName,
			Description: cr.Spec.Description,
			ItemType:    cr.Spec.ItemType,
			Tags:        cr.Spec.Tags,
			Content:     cr.Spec.Content,
			Notes:       cr.Spec.Notes,
			CreatedBy:   author,
		})
	}
	if err != nil {
		return nil, err
	}

	if p.Content() != cr.Spec.Content {
		v, err := r.Library.AddVersion(ctx, p.ID, library.VersionParams{
			Content:   cr.Spec.Content,
			Notes:     cr.Spec.Notes,
			CreatedBy: author,
		})
		if err != nil {
			return nil, err
		}
		if _, err := r.Library.ApproveVersion(ctx, p.ID, v.VersionNumber, Approver); err != nil {
			return nil, err
		}
	}

	if u, changed := fieldChanges(p, cr); changed {
		if _, err := r.Library.Update(ctx, p.ID, u); err != nil {
			return nil, err
		}
	}
	return r.Library.Get(ctx, p.ID)
}

// fieldChanges returns the update needed to bring p's descriptive fields in
// line with the spec. An empty display name or item type leaves the library
// value alone.
func fieldChanges(p *core.Prompt, cr *v1.PromptItem) (library.UpdateParams, bool) {
	var u library.UpdateParams
	changed := false
	if dn := cr.Spec.DisplayName; dn != "" && dn != p.DisplayName {
		u.DisplayName = &dn
		changed = true
	}
	if d := cr.Spec.Description; d != p.Description {
		u.Description = &d
		changed = true
	}
	if it := cr.Spec.ItemType; it != "" && core.ItemType(it) != p.ItemType {
		u.ItemType = it
		changed = true
	}
	if tags := core.NormalizeTags(cr.Spec.Tags); !slices.Equal(tags, p.Tags) {
		u.Tags = tags
		changed = true
	}
	return u, changed
}

// SetupWithManager registers the reconciler with the manager.
func (r *PromptItemReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1.PromptItem{}).
		Complete(r)
}

// NewScheme returns a scheme with promptlib types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := v1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("add promptlib scheme: %w", err)
	}
	return scheme, nil
}
