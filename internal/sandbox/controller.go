package sandbox

import "context"

// Controller is the subset of Session's behavior the Execution workflow
// depends on, narrowed to an interface so workflow tests can substitute
// MockController and run without a real executor daemon.
type Controller interface {
	Provision(ctx context.Context, spec ContainerSpec) error
	Verify(ctx context.Context, containerName string) error
	Release(ctx context.Context, containerName string) error
	ExecuteCommand(ctx context.Context, command string) (ExecResult, error)
	ExecuteScript(ctx context.Context, script string) (ExecResult, error)
	ListDirectory(ctx context.Context, path string) (ExecResult, error)
	ReadFile(ctx context.Context, path string) (ExecResult, error)
}

var _ Controller = (*Session)(nil)

// MockController is a test implementation of Controller, in the same
// spirit as graph/tool.MockTool and graph/model.MockChatModel: configurable
// canned responses plus call-history tracking, no real transport.
type MockController struct {
	ExecuteCommandResponses []ExecResult
	ExecuteScriptResponses  []ExecResult
	ProvisionErr            error
	VerifyErr               error
	ReleaseErr              error

	Calls []string

	cmdIdx    int
	scriptIdx int
}

func (m *MockController) Provision(ctx context.Context, spec ContainerSpec) error {
	m.Calls = append(m.Calls, "provision:"+spec.ContainerName)
	return m.ProvisionErr
}

func (m *MockController) Verify(ctx context.Context, containerName string) error {
	m.Calls = append(m.Calls, "verify:"+containerName)
	return m.VerifyErr
}

func (m *MockController) Release(ctx context.Context, containerName string) error {
	m.Calls = append(m.Calls, "release:"+containerName)
	return m.ReleaseErr
}

func (m *MockController) ExecuteCommand(ctx context.Context, command string) (ExecResult, error) {
	m.Calls = append(m.Calls, "execute_command:"+command)
	if len(m.ExecuteCommandResponses) == 0 {
		return ExecResult{Success: true}, nil
	}
	idx := m.cmdIdx
	if idx >= len(m.ExecuteCommandResponses) {
		idx = len(m.ExecuteCommandResponses) - 1
	} else {
		m.cmdIdx++
	}
	return m.ExecuteCommandResponses[idx], nil
}

func (m *MockController) ExecuteScript(ctx context.Context, script string) (ExecResult, error) {
	m.Calls = append(m.Calls, "execute_script")
	if len(m.ExecuteScriptResponses) == 0 {
		return ExecResult{Success: true}, nil
	}
	idx := m.scriptIdx
	if idx >= len(m.ExecuteScriptResponses) {
		idx = len(m.ExecuteScriptResponses) - 1
	} else {
		m.scriptIdx++
	}
	return m.ExecuteScriptResponses[idx], nil
}

func (m *MockController) ListDirectory(ctx context.Context, path string) (ExecResult, error) {
	m.Calls = append(m.Calls, "list_directory:"+path)
	return ExecResult{Success: true}, nil
}

func (m *MockController) ReadFile(ctx context.Context, path string) (ExecResult, error) {
	m.Calls = append(m.Calls, "read_file:"+path)
	return ExecResult{Success: true}, nil
}
