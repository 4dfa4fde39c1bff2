// Package store persists Task documents and mediates the state machine's
// atomic compare-and-set phase transitions.
package store

import (
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
)

// ListFilter narrows a List call. Zero values mean "no filter".
type ListFilter struct {
	UserID     string
	NamePrefix string
	State      poiesistypes.State
	Tags       map[string]string
	View       poiesistypes.View
	PageSize   int
	PageToken  string
}

// Store is the persistence interface every Task Lifecycle Engine workload
// depends on. Implementations must make Transition an atomic
// compare-and-set on (id, expected from-state).
type Store interface {
	// Create assigns an id, sets state=QUEUED and creation_time=now, and
	// persists the task.
	Create(task *poiesistypes.Task) (string, error)

	// Get returns a task scoped to userID, with the requested field
	// projection applied (empty view means FULL). A task owned by
	// another user surfaces as poiesiserr.KindNotFound, identically to
	// an unknown id.
	Get(id, userID string, view poiesistypes.View) (*poiesistypes.Task, error)

	// GetAny returns a task by id with no owner check and full field
	// projection, for the cluster-trusted engine workloads (orchestrator,
	// filer, texam) that act on a task id alone with no end-user
	// identity of their own.
	GetAny(id string) (*poiesistypes.Task, error)

	// List returns tasks matching filter plus a next-page token, ordered by
	// (creation_time desc, id asc).
	List(filter ListFilter) ([]*poiesistypes.Task, string, error)

	// Transition performs the CAS: if the task's current state equals
	// from, it is set to to and nil is returned; otherwise a
	// poiesiserr.KindConflict error is returned and the task is untouched.
	Transition(id string, from, to poiesistypes.State) error

	AppendExecutorLog(id string, index int, log poiesistypes.ExecutorLog) error
	AppendOutputLog(id string, log poiesistypes.OutputFileLog) error
	AppendSystemLog(id string, text string) error
	SetStartTime(id string) error
	SetEndTime(id string) error

	Close() error
}
