package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/queue"
)

// Scenario is a sync scenario loaded from YAML.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Kinds lists the entity kinds with registered handlers. Defaults to
	// DefaultKinds.
	Kinds []string `yaml:"kinds,omitempty"`

	// Reconcile lists kinds whose updates are checked against the remote
	// version first; Preserve is the field override used when remote wins.
	Reconcile []string `yaml:"reconcile,omitempty"`
	Preserve  []string `yaml:"preserve,omitempty"`

	// Online is the connectivity before the first step.
	Online bool `yaml:"online"`

	// Remote seeds the remote store.
	Remote []SeedDoc `yaml:"remote,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultKinds are the entity kinds registered when a scenario names none.
var DefaultKinds = []string{"tasks", "crew", "formTemplates", "formSubmissions"}

// SeedDoc is a document present on the remote before the first step.
type SeedDoc struct {
	Kind string         `yaml:"kind"`
	ID   string         `yaml:"id"`
	Doc  map[string]any `yaml:"doc"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Enqueue       *EnqueueStep `yaml:"enqueue,omitempty"`
	Connectivity  string       `yaml:"connectivity,omitempty"`
	Fail          *FailStep    `yaml:"fail,omitempty"`
	Heal          bool         `yaml:"heal,omitempty"`
	Drain         bool         `yaml:"drain,omitempty"`
	RetryFailed   bool         `yaml:"retry_failed,omitempty"`
	DiscardFailed bool         `yaml:"discard_failed,omitempty"`
	Restart       bool         `yaml:"restart,omitempty"`
}

// EnqueueStep queues a mutation.
type EnqueueStep struct {
	Kind     string         `yaml:"kind"`
	Op       string         `yaml:"op"`
	EntityID string         `yaml:"entity_id,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
}

// FailStep injects a remote fault. Empty Op or Kind match any call.
// Times limits how many calls fail; 0 fails until the next heal step.
type FailStep struct {
	Op    string `yaml:"op,omitempty"`
	Kind  string `yaml:"kind,omitempty"`
	Error string `yaml:"error"` // "transient" | "permanent"
	Times int    `yaml:"times,omitempty"`
}

// Connectivity step values.
const (
	ConnOnline     = "online"
	ConnOffline    = "offline"
	ConnForeground = "foreground"
)

// Assertion checks the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number (pending_count, failed_count, call_count).
	Count *int `yaml:"count,omitempty"`

	// Op and Kind filter calls (call_count) or name the document (remote_doc).
	Op   string `yaml:"op,omitempty"`
	Kind string `yaml:"kind,omitempty"`
	ID   string `yaml:"id,omitempty"`

	// Calls is the expected call order as "op kind" or "op kind id" entries
	// (call_order). Other calls may appear in between.
	Calls []string `yaml:"calls,omitempty"`

	// List and Index select a queue item (queue_item).
	List  string `yaml:"list,omitempty"`
	Index int    `yaml:"index,omitempty"`

	// Expect holds expected fields, subset match (remote_doc, queue_item).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that the document does not exist (remote_doc).
	Absent bool `yaml:"absent,omitempty"`

	// Contains is a substring of the expected sync error (sync_error).
	// Empty asserts that there is no error.
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertPendingCount = "pending_count"
	AssertFailedCount  = "failed_count"
	AssertCallCount    = "call_count"
	AssertCallOrder    = "call_order"
	AssertRemoteDoc    = "remote_doc"
	AssertQueueItem    = "queue_item"
	AssertSyncError    = "sync_error"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, doc := range s.Remote {
		if doc.Kind == "" || doc.ID == "" {
			return fmt.Errorf("remote[%d]: kind and id are required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	set := 0
	for _, on := range []bool{
		st.Enqueue != nil,
		st.Connectivity != "",
		st.Fail != nil,
		st.Heal,
		st.Drain,
		st.RetryFailed,
		st.DiscardFailed,
		st.Restart,
	} {
		if on {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, set)
	}

	switch {
	case st.Enqueue != nil:
		if st.Enqueue.Kind == "" {
			return fmt.Errorf("steps[%d].enqueue: kind is required", index)
		}
		op, err := queue.ParseOperation(st.Enqueue.Op)
		if err != nil {
			return fmt.Errorf("steps[%d].enqueue: %w", index, err)
		}
		if op != queue.OpCreate && st.Enqueue.EntityID == "" {
			return fmt.Errorf("steps[%d].enqueue: entity_id is required for %s", index, op)
		}
	case st.Connectivity != "":
		switch st.Connectivity {
		case ConnOnline, ConnOffline, ConnForeground:
		default:
			return fmt.Errorf("steps[%d]: unknown connectivity %q", index, st.Connectivity)
		}
	case st.Fail != nil:
		if st.Fail.Error != "transient" && st.Fail.Error != "permanent" {
			return fmt.Errorf("steps[%d].fail: error must be transient or permanent", index)
		}
		if st.Fail.Times < 0 {
			return fmt.Errorf("steps[%d].fail: times must be non-negative", index)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPendingCount, AssertFailedCount, AssertCallCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertCallOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for call_order", index)
		}
	case AssertRemoteDoc:
		if a.Kind == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: kind and id are required for remote_doc", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for remote_doc", index)
		}
	case AssertQueueItem:
		if a.List != "pending" && a.List != "failed" {
			return fmt.Errorf("assertions[%d]: list must be pending or failed", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for queue_item", index)
		}
	case AssertSyncError:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
