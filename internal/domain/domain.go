package domain

import "time"

// Account is one resolvable person in the platform directory.
type Account struct {
	AccountID   string `json:"accountId"`
	StoreID     string `json:"storeId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Resolution partitions requested store ids into resolved accounts and
// unresolved ids. Both keep the order of first appearance in the request.
type Resolution struct {
	Resolved   []Account `json:"foundUsers"`
	Unresolved []string  `json:"notFoundIds"`
}

// AccountIDs returns the platform ids of the resolved accounts.
func (r Resolution) AccountIDs() []string {
	ids := make([]string, 0, len(r.Resolved))
	for _, a := range r.Resolved {
		ids = append(ids, a.AccountID)
	}
	return ids
}

type LifecycleStatus string

const (
	StatusDraft     LifecycleStatus = "draft"
	StatusScheduled LifecycleStatus = "scheduled"
	StatusPublished LifecycleStatus = "published"
)

// ParseLifecycleStatus accepts the lowercase status names; ok is false otherwise.
func ParseLifecycleStatus(s string) (LifecycleStatus, bool) {
	switch LifecycleStatus(s) {
	case StatusDraft, StatusScheduled, StatusPublished:
		return LifecycleStatus(s), true
	}
	return "", false
}

// Distribution is one announcement created by storecast: a channel plus its post.
type Distribution struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Department  string          `json:"department"`
	TargetCount int             `json:"targetCount"`
	CreatedAt   time.Time       `json:"createdAt" format:"date-time"`
	Status      LifecycleStatus `json:"status" enum:"draft,scheduled,published"`
	AccessorIDs []string        `json:"accessorIds,omitempty"`
	Encoding    string          `json:"encoding"`
}

// TaskSpec is one row of an uploaded task file.
type TaskSpec struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty" format:"date-time"`
}

// StoreProject is a store's workspace on the platform, used as a task fan-out target.
type StoreProject struct {
	ProjectID string `json:"projectId"`
	StoreID   string `json:"storeId"`
	Title     string `json:"title"`
}
