// Package runners supervises the coordination core's own module
// processes: starting, stopping, and restarting the Bus-connected
// workers named in the Registry (§4.4), across whichever deployment
// backend the operator chooses (local subprocess or Docker container).
// internal/registry.RestartQueue does not call a Runner: it publishes
// restart requests on its channel and retires a module that exhausts
// its backoff ladder.
package runners

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// ModuleSpec describes one coordination-core module to deploy: the
// binary/image to run, the arguments it needs (tenant, version), and
// its resource envelope.
type ModuleSpec struct {
	Name    string
	Version string

	// Image is a Docker image reference for the docker backend, or a
	// path to a local executable for the local backend.
	Image string
	Args  []string
	Env   map[string]string

	MemoryBytes int64
	CPUQuota    float64
}

// Status is the lifecycle state of a supervised module instance.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// ModuleStatus reports the current state of a supervised module.
type ModuleStatus struct {
	Name         string
	Status       Status
	InstanceID   string // PID for local, container ID for docker
	Healthy      bool
	ErrorMessage string
	StartedAt    *time.Time
}

// LogOptions configures log retrieval.
type LogOptions struct {
	Follow     bool
	Tail       int
	Timestamps bool
}

// LogReader streams module log output; callers must Close it.
type LogReader struct {
	io.ReadCloser
}

// Runner deploys and supervises module instances on one backend.
// Mirrors the reference hosting runtime's bot-lifecycle interface,
// retargeted from bot containers to coordination-core module
// instances (§4.3, §4.4).
type Runner interface {
	CreateModule(ctx context.Context, spec ModuleSpec) error
	DeleteModule(ctx context.Context, name string) error
	StartModule(ctx context.Context, name string) error
	StopModule(ctx context.Context, name string) error
	RestartModule(ctx context.Context, name string) error
	GetModuleStatus(ctx context.Context, name string) (*ModuleStatus, error)
	GetModuleLogs(ctx context.Context, name string, opts LogOptions) (*LogReader, error)
	ListModules(ctx context.Context) ([]ModuleStatus, error)
	HealthCheck(ctx context.Context) error
	Close() error
	Type() string
}

// MockRunner is a no-op Runner double for tests.
type MockRunner struct {
	mu       sync.Mutex
	statuses map[string]ModuleStatus

	CreateModuleFunc func(ctx context.Context, spec ModuleSpec) error
	RestartModuleFunc func(ctx context.Context, name string) error
}

var _ Runner = (*MockRunner)(nil)

func NewMockRunner() *MockRunner {
	return &MockRunner{statuses: make(map[string]ModuleStatus)}
}

func (m *MockRunner) CreateModule(ctx context.Context, spec ModuleSpec) error {
	if m.CreateModuleFunc != nil {
		if err := m.CreateModuleFunc(ctx, spec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[spec.Name] = ModuleStatus{Name: spec.Name, Status: StatusRunning, Healthy: true}
	return nil
}

func (m *MockRunner) DeleteModule(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	return nil
}

func (m *MockRunner) StartModule(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statuses[name]
	s.Name = name
	s.Status = StatusRunning
	s.Healthy = true
	m.statuses[name] = s
	return nil
}

func (m *MockRunner) StopModule(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statuses[name]
	s.Status = StatusStopped
	s.Healthy = false
	m.statuses[name] = s
	return nil
}

func (m *MockRunner) RestartModule(ctx context.Context, name string) error {
	if m.RestartModuleFunc != nil {
		return m.RestartModuleFunc(ctx, name)
	}
	if err := m.StopModule(ctx, name); err != nil {
		return err
	}
	return m.StartModule(ctx, name)
}

func (m *MockRunner) GetModuleStatus(ctx context.Context, name string) (*ModuleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[name]
	if !ok {
		return nil, fmt.Errorf("module %s not found", name)
	}
	return &s, nil
}

func (m *MockRunner) GetModuleLogs(ctx context.Context, name string, opts LogOptions) (*LogReader, error) {
	return &LogReader{ReadCloser: io.NopCloser(nil)}, nil
}

func (m *MockRunner) ListModules(ctx context.Context) ([]ModuleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModuleStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	return out, nil
}

func (m *MockRunner) HealthCheck(ctx context.Context) error { return nil }
func (m *MockRunner) Close() error                          { return nil }
func (m *MockRunner) Type() string                           { return "mock" }
