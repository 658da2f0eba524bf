package sandbox

import (
	"context"
	"regexp"
	"strings"

	"github.com/tsingsx/algotest/graph/tool"
)

// ExecResult is the unwrapped, classified outcome of one sandbox command,
// after stripping the daemon's 命令执行成功/命令执行失败 framing and
// scanning for the error keywords the original service treated as
// failure signals even when isError wasn't set.
type ExecResult struct {
	Success bool
	Stdout  string
	Stderr  string
	// FullOutput is Stdout with a "\n\nSTDERR:\n"-separated Stderr section
	// appended when Stderr is non-empty; callers that need stdout alone,
	// byte-for-byte, should read Stdout directly instead.
	FullOutput string
}

var (
	textContentWrapper = regexp.MustCompile(`text='([^']*)'`)
	successPrefix      = "命令执行成功:"
	failurePrefix      = "命令执行失败:"
	errorKeywords      = []string{"脚本执行失败", "返回码:", "错误:", "Error:", "Failed:"}
)

// unwrap applies the daemon's text-wrapping and prefix conventions, then
// the error-keyword scan, to decide whether a call_tool result represents
// success. Even a toolResult with IsError=false can be reclassified as a
// failure here if its stdout contains one of errorKeywords.
func unwrap(r toolResult) ExecResult {
	stdout := r.Stdout
	if stdout == "" && r.Text != "" {
		stdout = r.Text
	}
	if m := textContentWrapper.FindStringSubmatch(stdout); m != nil {
		stdout = m[1]
	}

	success := !r.IsError
	switch {
	case strings.HasPrefix(stdout, successPrefix):
		stdout = strings.TrimSpace(strings.TrimPrefix(stdout, successPrefix))
		success = true
	case strings.HasPrefix(stdout, failurePrefix):
		stdout = strings.TrimSpace(strings.TrimPrefix(stdout, failurePrefix))
		success = false
	}

	if strings.Contains(stdout, "执行命令时出错") || strings.Contains(stdout, "返回码:") {
		success = false
	}
	for _, kw := range errorKeywords {
		if strings.Contains(stdout, kw) {
			success = false
			break
		}
	}

	full := stdout
	if r.Stderr != "" {
		full += "\n\nSTDERR:\n" + r.Stderr
	}

	return ExecResult{Success: success, Stdout: stdout, Stderr: r.Stderr, FullOutput: full}
}

// ExecuteCommand runs a single shell command in the session's container.
func (s *Session) ExecuteCommand(ctx context.Context, command string) (ExecResult, error) {
	r, err := s.CallTool(ctx, "execute_command", map[string]interface{}{"command": command})
	if err != nil {
		return ExecResult{}, err
	}
	return unwrap(r), nil
}

// ExecuteScript runs a multi-line shell script in the session's container.
func (s *Session) ExecuteScript(ctx context.Context, script string) (ExecResult, error) {
	r, err := s.CallTool(ctx, "execute_script", map[string]interface{}{"script": script})
	if err != nil {
		return ExecResult{}, err
	}
	return unwrap(r), nil
}

// ListDirectory lists the contents of path inside the container.
func (s *Session) ListDirectory(ctx context.Context, path string) (ExecResult, error) {
	r, err := s.CallTool(ctx, "list_directory", map[string]interface{}{"path": path})
	if err != nil {
		return ExecResult{}, err
	}
	return unwrap(r), nil
}

// ReadFile reads the contents of path inside the container.
func (s *Session) ReadFile(ctx context.Context, path string) (ExecResult, error) {
	r, err := s.CallTool(ctx, "read_file", map[string]interface{}{"path": path})
	if err != nil {
		return ExecResult{}, err
	}
	return unwrap(r), nil
}

// asTool adapts one of the session's four primitives to the tool.Tool
// shape so the command-synthesis layer can describe them to an LLM
// uniformly, the way the rest of the corpus treats executable actions.
type asTool struct {
	name string
	fn   func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

func (t *asTool) Name() string { return t.name }
func (t *asTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return t.fn(ctx, input)
}

// Tools returns the session's four primitives wrapped as tool.Tool, for
// callers that want a uniform list rather than named methods.
func (s *Session) Tools() []tool.Tool {
	return []tool.Tool{
		&asTool{name: string(toolExecuteCommand), fn: func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			cmd, _ := in["command"].(string)
			res, err := s.ExecuteCommand(ctx, cmd)
			return resultToMap(res), err
		}},
		&asTool{name: string(toolExecuteScript), fn: func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			script, _ := in["script"].(string)
			res, err := s.ExecuteScript(ctx, script)
			return resultToMap(res), err
		}},
		&asTool{name: string(toolListDirectory), fn: func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			path, _ := in["path"].(string)
			res, err := s.ListDirectory(ctx, path)
			return resultToMap(res), err
		}},
		&asTool{name: string(toolReadFile), fn: func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			path, _ := in["path"].(string)
			res, err := s.ReadFile(ctx, path)
			return resultToMap(res), err
		}},
	}
}

type sandboxToolName string

const (
	toolExecuteCommand sandboxToolName = "execute_command"
	toolExecuteScript  sandboxToolName = "execute_script"
	toolListDirectory  sandboxToolName = "list_directory"
	toolReadFile       sandboxToolName = "read_file"
)

func resultToMap(r ExecResult) map[string]interface{} {
	return map[string]interface{}{
		"success": r.Success,
		"stdout":  r.Stdout,
		"stderr":  r.Stderr,
		"output":  r.FullOutput,
	}
}
