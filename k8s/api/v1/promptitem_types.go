// Package v1 contains the PromptItem CRD types.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced

// PromptItem declares a library prompt whose content is kept in sync with the
// prompt library. Changing spec.content publishes a new approved version.
type PromptItem struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              PromptItemSpec   `json:"spec,omitempty"`
	Status            PromptItemStatus `json:"status,omitempty"`
}

// PromptItemSpec defines the desired state of PromptItem.
type PromptItemSpec struct {
	// Name is the library name; defaults to metadata.name.
	Name        string   `json:"name,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Description string   `json:"description,omitempty"`
	ItemType    string   `json:"itemType,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Content     string   `json:"content"`
	Notes       string   `json:"notes,omitempty"`
}

// PromptItemStatus defines the observed state of PromptItem.
type PromptItemStatus struct {
	PromptID           string `json:"promptID,omitempty"`
	Version            int    `json:"version,omitempty"`
	Synced             bool   `json:"synced"`
	ObservedGeneration int64  `json:"observedGeneration,omitempty"`
	LastSyncTime       string `json:"lastSyncTime,omitempty"`
	Message            string `json:"message,omitempty"`
}

// +kubebuilder:object:root=true

// PromptItemList contains a list of PromptItem.
type PromptItemList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []PromptItem `json:"items"`
}

// DeepCopyObject implements runtime.Object.
func (p *PromptItem) DeepCopyObject() runtime.Object {
	if p == nil {
		return nil
	}
	out := &PromptItem{}
	p.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (p *PromptItem) DeepCopyInto(out *PromptItem) {
	*out = *p
	out.TypeMeta = p.TypeMeta
	p.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	p.Spec.DeepCopyInto(&out.Spec)
	out.Status = p.Status
}

// DeepCopyInto copies PromptItemSpec.
func (s *PromptItemSpec) DeepCopyInto(out *PromptItemSpec) {
	*out = *s
	if s.Tags != nil {
		out.Tags = make([]string, len(s.Tags))
		copy(out.Tags, s.Tags)
	}
}

// DeepCopyObject implements runtime.Object for PromptItemList.
func (p *PromptItemList) DeepCopyObject() runtime.Object {
	if p == nil {
		return nil
	}
	out := &PromptItemList{}
	p.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the list into out.
func (p *PromptItemList) DeepCopyInto(out *PromptItemList) {
	*out = *p
	out.TypeMeta = p.TypeMeta
	p.ListMeta.DeepCopyInto(&out.ListMeta)
	if p.Items != nil {
		out.Items = make([]PromptItem, len(p.Items))
		for i := range p.Items {
			p.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}
