package toolexecutor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// RegisterBuiltins installs the default tool set rooted at workDir.
// echo, current_time and read_file are read-only; write_file and
// run_command require Full mode.
func RegisterBuiltins(registry *Registry, workDir string) error {
	builtins := []Tool{
		EchoTool(),
		CurrentTimeTool(),
		ReadFileTool(workDir),
		WriteFileTool(workDir),
		RunCommandTool(workDir),
	}
	for _, tool := range builtins {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// EchoTool returns its message argument unchanged.
func EchoTool() Tool {
	return &FuncTool{
		ToolName:        "echo",
		ToolDescription: "Echo the provided message back verbatim",
		ToolSchema: ObjectSchema(map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The message to echo",
			},
		}, "message"),
		ReadOnly: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			message, _ := args["message"].(string)
			return message, nil
		},
	}
}

// CurrentTimeTool reports the current time, RFC 3339.
func CurrentTimeTool() Tool {
	return &FuncTool{
		ToolName:        "current_time",
		ToolDescription: "Get the current date and time in RFC 3339 format",
		ToolSchema:      ObjectSchema(map[string]interface{}{}),
		ReadOnly:        true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}
}

// ReadFileTool reads a file under workDir.
func ReadFileTool(workDir string) Tool {
	return &FuncTool{
		ToolName:        "read_file",
		ToolDescription: "Read a text file relative to the working directory",
		ToolSchema: ObjectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path relative to the working directory",
			},
		}, "path"),
		ReadOnly: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			resolved, err := resolveWithin(workDir, path)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return "", fmt.Errorf("failed to read file: %w", err)
			}
			return string(data), nil
		},
	}
}

// WriteFileTool writes a file under workDir. Full mode only.
func WriteFileTool(workDir string) Tool {
	return &FuncTool{
		ToolName:        "write_file",
		ToolDescription: "Write content to a file relative to the working directory",
		ToolSchema: ObjectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path relative to the working directory",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The content to write",
			},
		}, "path", "content"),
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			resolved, err := resolveWithin(workDir, path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("failed to write file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// RunCommandTool runs a shell command in workDir. Full mode only; the
// context deadline propagates to the subprocess.
func RunCommandTool(workDir string) Tool {
	return &FuncTool{
		ToolName:        "run_command",
		ToolDescription: "Run a shell command in the working directory and return its combined output",
		ToolSchema: ObjectSchema(map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run",
			},
		}, "command"),
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			command, _ := args["command"].(string)
			if strings.TrimSpace(command) == "" {
				return "", fmt.Errorf("command cannot be empty")
			}
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = workDir
			out, err := cmd.CombinedOutput()
			if err != nil {
				return "", fmt.Errorf("command failed: %w\n%s", err, string(out))
			}
			return string(out), nil
		},
	}
}

// resolveWithin joins path under root and rejects escapes.
func resolveWithin(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	resolved := filepath.Join(root, filepath.Clean("/"+path))
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", path)
	}
	return abs, nil
}
