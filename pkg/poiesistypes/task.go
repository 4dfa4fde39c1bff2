// Package poiesistypes holds the domain model shared by every Task Lifecycle
// Engine workload: the Task document and its nested logs, and the state
// graph that governs legal transitions between them.
package poiesistypes

import "time"

// State is a task's position in the lifecycle state graph.
type State string

const (
	StateUnknown       State = "UNKNOWN"
	StateQueued        State = "QUEUED"
	StateInitializing  State = "INITIALIZING"
	StateRunning       State = "RUNNING"
	StatePaused        State = "PAUSED"
	StateComplete      State = "COMPLETE"
	StateExecutorError State = "EXECUTOR_ERROR"
	StateSystemError   State = "SYSTEM_ERROR"
	StateCanceled      State = "CANCELED"
	StateCanceling     State = "CANCELING"
	StatePreempted     State = "PREEMPTED"
)

// terminal holds the states from which no further transition is legal.
var terminal = map[State]bool{
	StateComplete:      true,
	StateExecutorError: true,
	StateSystemError:   true,
	StateCanceled:      true,
	StatePreempted:     true,
}

// IsTerminal reports whether s accepts no further transitions.
func IsTerminal(s State) bool {
	return terminal[s]
}

// edges is the directed state graph from spec section 3. CANCELING is
// reachable from every non-terminal state and is checked separately in
// CanTransition rather than enumerated per source state.
var edges = map[State][]State{
	StateQueued:       {StateInitializing, StateExecutorError, StateSystemError, StatePreempted},
	StateInitializing: {StateRunning, StateExecutorError, StateSystemError, StatePreempted},
	StateRunning:      {StateComplete, StateExecutorError, StateSystemError, StatePreempted},
	StateCanceling:    {StateCanceled},
}

// CanTransition reports whether from -> to is a legal edge in the state
// graph. Terminal states accept no outgoing edges; CANCELING is reachable
// from any non-terminal state.
func CanTransition(from, to State) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StateCanceling {
		return true
	}
	for _, candidate := range edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IOType distinguishes a file from a directory for inputs/outputs.
type IOType string

const (
	IOTypeFile      IOType = "FILE"
	IOTypeDirectory IOType = "DIRECTORY"
)

// View controls field projection on reads, per spec section 3.
type View string

const (
	ViewMinimal View = "MINIMAL"
	ViewBasic   View = "BASIC"
	ViewFull    View = "FULL"
)

// Input describes one staged-in file or directory. Exactly one of URL or
// Content is set; a well-formed Task never has both or neither.
type Input struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Content     string `json:"content,omitempty"`
	Path        string `json:"path"`
	Type        IOType `json:"type"`
	Streamable  bool   `json:"streamable,omitempty"`
}

// Output describes a file or directory to stage out after executors finish.
// PathPrefix is required when Path contains a wildcard.
type Output struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Path        string `json:"path"`
	PathPrefix  string `json:"path_prefix,omitempty"`
	Type        IOType `json:"type"`
}

// Resources expresses the task's requested cluster resources.
type Resources struct {
	CPUCores                *int64            `json:"cpu_cores,omitempty"`
	RAMGB                   *float64          `json:"ram_gb,omitempty"`
	DiskGB                  *float64          `json:"disk_gb,omitempty"`
	Preemptible             *bool             `json:"preemptible,omitempty"`
	Zones                   []string          `json:"zones,omitempty"`
	BackendParameters       map[string]string `json:"backend_parameters,omitempty"`
	BackendParametersStrict bool              `json:"backend_parameters_strict,omitempty"`
}

// Executor is one containerized step run in order by TExAM.
type Executor struct {
	Image       string            `json:"image"`
	Command     []string          `json:"command"`
	Workdir     string            `json:"workdir,omitempty"`
	Stdin       string            `json:"stdin,omitempty"`
	Stdout      string            `json:"stdout,omitempty"`
	Stderr      string            `json:"stderr,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	IgnoreError bool              `json:"ignore_error,omitempty"`
}

// ExecutorLog records the outcome of one Executor run.
type ExecutorLog struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Stdout    string     `json:"stdout,omitempty"`
	Stderr    string     `json:"stderr,omitempty"`
	ExitCode  *int       `json:"exit_code"`
}

// OutputFileLog records one file successfully staged out.
type OutputFileLog struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// TaskLog is the record of one attempt at running a task. This
// implementation keeps exactly one TaskLog per task; the field stays a
// slice so a future retry feature can append without a schema change.
type TaskLog struct {
	StartTime  *time.Time        `json:"start_time,omitempty"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SystemLogs []string          `json:"system_logs,omitempty"`
	Outputs    []OutputFileLog   `json:"outputs,omitempty"`
	Logs       []ExecutorLog     `json:"logs,omitempty"`
}

// Task is the root document of the Task Lifecycle Engine.
type Task struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	State        State             `json:"state"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	CreationTime time.Time         `json:"creation_time"`
	Inputs       []Input           `json:"inputs,omitempty"`
	Outputs      []Output          `json:"outputs,omitempty"`
	Resources    *Resources        `json:"resources,omitempty"`
	Executors    []Executor        `json:"executors"`
	Volumes      []string          `json:"volumes,omitempty"`
	Logs         []TaskLog         `json:"logs,omitempty"`
}

// CurrentLog returns the task's most recent TaskLog, creating one in place
// if none exists yet. Per the single-attempt Open Question decision this is
// always index 0.
func (t *Task) CurrentLog() *TaskLog {
	if len(t.Logs) == 0 {
		t.Logs = append(t.Logs, TaskLog{})
	}
	return &t.Logs[len(t.Logs)-1]
}
