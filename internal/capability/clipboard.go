package capability

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	serrors "striker/internal/errors"
)

// ClipboardTool is a pair of helper commands that read and write the
// clipboard through stdin/stdout.
type ClipboardTool struct {
	Name  string
	Read  []string
	Write []string
}

// DefaultClipboardTools lists the helpers tried in order on Linux.
var DefaultClipboardTools = []ClipboardTool{
	{Name: "xclip", Read: []string{"xclip", "-selection", "clipboard", "-o"}, Write: []string{"xclip", "-selection", "clipboard", "-i"}},
	{Name: "xsel", Read: []string{"xsel", "--clipboard", "--output"}, Write: []string{"xsel", "--clipboard", "--input"}},
	{Name: "wl-copy", Read: []string{"wl-paste", "--no-newline"}, Write: []string{"wl-copy"}},
}

// CommandClipboard implements [Clipboard] with the first helper tool
// found on PATH.
type CommandClipboard struct {
	Tools []ClipboardTool
}

var _ Clipboard = (*CommandClipboard)(nil)

// Read returns the clipboard text.
func (c *CommandClipboard) Read(ctx context.Context) (string, error) {
	tool, err := c.pick()
	if err != nil {
		return "", err
	}
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool.Read[0], tool.Read[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", tool.Name, err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// Write replaces the clipboard text.
func (c *CommandClipboard) Write(ctx context.Context, text string) error {
	tool, err := c.pick()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool.Write[0], tool.Write[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", tool.Name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c *CommandClipboard) pick() (ClipboardTool, error) {
	tools := c.Tools
	if tools == nil {
		tools = DefaultClipboardTools
	}
	for _, t := range tools {
		if len(t.Read) == 0 || len(t.Write) == 0 {
			continue
		}
		if _, err := exec.LookPath(t.Read[0]); err != nil {
			continue
		}
		if _, err := exec.LookPath(t.Write[0]); err != nil {
			continue
		}
		return t, nil
	}
	return ClipboardTool{}, fmt.Errorf("no clipboard helper on PATH: %w", serrors.ErrUnsupported)
}
