package raster

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Command renders a single page with one of the supported tools
type Command interface {
	// IsAvailable checks that the tool executable can be found
	IsAvailable() bool

	// ToolPath returns the executable used for rendering
	ToolPath() string

	// RenderPage renders page (1-based) of inputPath into workDir and returns the image path
	RenderPage(ctx context.Context, inputPath, workDir string, page, dpi int, extra []string) (string, error)
}

// NewCommand returns the driver for the configured tool
func NewCommand(tool ConvertTool, toolPath string, executor Executor) (Command, error) {
	if executor == nil {
		executor = systemExecutor{}
	}
	if toolPath == "" {
		toolPath = string(tool)
	}

	switch tool {
	case ToolPdftoppm:
		return &pdftoppmCommand{path: toolPath, exec: executor}, nil
	case ToolMutool:
		return &mutoolCommand{path: toolPath, exec: executor}, nil
	default:
		return nil, fmt.Errorf("unsupported conversion tool: %s", tool)
	}
}

type systemExecutor struct{}

func (systemExecutor) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (systemExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

type pdftoppmCommand struct {
	path string
	exec Executor
}

func (c *pdftoppmCommand) IsAvailable() bool {
	_, err := c.exec.LookPath(c.path)
	return err == nil
}

func (c *pdftoppmCommand) ToolPath() string { return c.path }

func (c *pdftoppmCommand) RenderPage(ctx context.Context, inputPath, workDir string, page, dpi int, extra []string) (string, error) {
	prefix := filepath.Join(workDir, fmt.Sprintf("page-%d", page))
	pageArg := strconv.Itoa(page)

	// -singlefile drops the page number suffix so the output name is predictable
	args := []string{
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", pageArg,
		"-l", pageArg,
		"-singlefile",
	}
	args = append(args, extra...)
	args = append(args, inputPath, prefix)

	if output, err := c.exec.Run(ctx, c.path, args); err != nil {
		return "", fmt.Errorf("pdftoppm failed: %w, output: %s", err, string(output))
	}
	return prefix + ".png", nil
}

type mutoolCommand struct {
	path string
	exec Executor
}

func (c *mutoolCommand) IsAvailable() bool {
	_, err := c.exec.LookPath(c.path)
	return err == nil
}

func (c *mutoolCommand) ToolPath() string { return c.path }

func (c *mutoolCommand) RenderPage(ctx context.Context, inputPath, workDir string, page, dpi int, extra []string) (string, error) {
	output := filepath.Join(workDir, fmt.Sprintf("page-%d.png", page))

	args := []string{
		"draw",
		"-q",
		"-F", "png",
		"-r", strconv.Itoa(dpi),
		"-o", output,
	}
	args = append(args, extra...)
	args = append(args, inputPath, strconv.Itoa(page))

	if out, err := c.exec.Run(ctx, c.path, args); err != nil {
		return "", fmt.Errorf("mutool failed: %w, output: %s", err, string(out))
	}
	return output, nil
}
