// Package cmdrun funnels every out-of-process action — process spawning,
// filesystem mutation, HTTP download — through a single token so the call
// sites performing I/O are auditable from the type signatures.
package cmdrun

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/vanderheijden86/amba/pkg/debug"
)

// acquired enforces that there is only ever one command runner.
var acquired atomic.Bool

// Cmd is the process-wide command runner token.
type Cmd struct {
	_ struct{}
}

// Get claims the token. Panics when called twice.
func Get() *Cmd {
	if !acquired.CompareAndSwap(false, true) {
		panic("cmdrun: Get can only be called once")
	}
	return &Cmd{}
}

// SpawnWait runs the command to completion, inheriting stdio.
func (c *Cmd) SpawnWait(cmd *exec.Cmd) error {
	debug.Log("spawn: %v (cwd %q)", cmd.Args, cmd.Dir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// CaptureStdout runs the command and returns its stdout.
func (c *Cmd) CaptureStdout(cmd *exec.Cmd) ([]byte, error) {
	debug.Log("capture: %v", cmd.Args)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read reads a file.
func (c *Cmd) Read(path string) ([]byte, error) {
	debug.Log("read: %s", path)
	return os.ReadFile(path)
}

// Write writes a file.
func (c *Cmd) Write(path string, content []byte) error {
	debug.Log("write: %s (%d bytes)", path, len(content))
	return os.WriteFile(path, content, 0o644)
}

// MkdirAll creates a directory tree.
func (c *Cmd) MkdirAll(dir string) error {
	debug.Log("mkdir -p: %s", dir)
	return os.MkdirAll(dir, 0o755)
}

// Remove deletes a single file, ignoring absence.
func (c *Cmd) Remove(path string) error {
	debug.Log("rm: %s", path)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveAll deletes a tree.
func (c *Cmd) RemoveAll(dir string) error {
	debug.Log("rm -r: %s", dir)
	return os.RemoveAll(dir)
}

// Copy copies a regular file.
func (c *Cmd) Copy(src, dst string) error {
	debug.Log("cp: %s -> %s", src, dst)
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// HTTPGet downloads url to dst.
func (c *Cmd) HTTPGet(url, dst string) error {
	debug.Log("http get: %s -> %s", url, dst)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("cmdrun: get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cmdrun: get %s: status %s", url, resp.Status)
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("cmdrun: download %s: %w", url, err)
	}
	return out.Sync()
}
