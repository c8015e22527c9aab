// Package initialize provisions the guest images amba boots: either built
// locally through the external image builder or downloaded prebuilt. The
// two paths live behind a tagged Strategy so the call site is a single
// switch.
package initialize

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/charmbracelet/huh"

	"github.com/vanderheijden86/amba/internal/cmdrun"
	"github.com/vanderheijden86/amba/pkg/debug"
)

// Strategy selects how guest images are provisioned.
type Strategy int

const (
	// Build compiles the images locally with the builder toolchain.
	Build Strategy = iota
	// Download fetches prebuilt images over HTTP.
	Download
)

func (s Strategy) String() string {
	switch s {
	case Build:
		return "build"
	case Download:
		return "download"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Options configures Run.
type Options struct {
	Strategy Strategy
	// Force reprovisions even when the version file is current.
	Force bool
	// BuilderRef is the builder the Build strategy invokes.
	BuilderRef string
	// DownloadBaseURL is where the Download strategy fetches from.
	DownloadBaseURL string
}

// imageFiles are the artifacts every strategy must leave behind.
var imageFiles = []string{
	"images/ubuntu-22.04-x86_64/image.json",
	"images/ubuntu-22.04-x86_64/image.raw.s2e",
	"images/ubuntu-22.04-x86_64/image.raw.s2e.ready",
}

// PickStrategy asks the user interactively which strategy to use. Only
// valid on a terminal; non-interactive callers pass the strategy in flags.
func PickStrategy() (Strategy, error) {
	choice := Build
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[Strategy]().
			Title("Provision guest images").
			Options(
				huh.NewOption("Build locally (slow, reproducible)", Build),
				huh.NewOption("Download prebuilt (fast)", Download),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return Build, fmt.Errorf("initialize: pick strategy: %w", err)
	}
	return choice, nil
}

// Run provisions the data directory. Skips work when the recorded version
// already matches, unless forced.
func Run(cmd *cmdrun.Cmd, dataDir string, opts Options) error {
	if err := cmd.MkdirAll(dataDir); err != nil {
		return err
	}

	newVersion, err := version(cmd, opts)
	if err != nil {
		return err
	}
	versionFile := filepath.Join(dataDir, "version.txt")
	if !opts.Force {
		if old, err := os.ReadFile(versionFile); err == nil && string(old) == newVersion {
			debug.Log("initialize: guest images already up to date; force rebuild with --force")
			return nil
		}
	}

	if err := cmd.Remove(versionFile); err != nil {
		return err
	}
	images := filepath.Join(dataDir, "images")
	imagesBuild := filepath.Join(dataDir, "images-build")
	if _, err := os.Stat(images); err == nil {
		if err := removeImages(cmd, images); err != nil {
			return err
		}
	}
	if _, err := os.Stat(imagesBuild); err == nil {
		if err := cmd.RemoveAll(imagesBuild); err != nil {
			return err
		}
	}

	switch opts.Strategy {
	case Build:
		err = runBuild(cmd, dataDir, opts)
	case Download:
		err = runDownload(cmd, dataDir, opts)
	default:
		err = fmt.Errorf("initialize: unknown strategy %v", opts.Strategy)
	}
	if err != nil {
		return err
	}

	for _, f := range imageFiles {
		if _, err := os.Stat(filepath.Join(dataDir, f)); err != nil {
			return fmt.Errorf("initialize: %s strategy left no %s", opts.Strategy, f)
		}
	}

	return cmd.Write(versionFile, []byte(newVersion))
}

// Initialized reports whether the data dir holds provisioned images.
func Initialized(dataDir string) bool {
	data, err := os.ReadFile(filepath.Join(dataDir, "version.txt"))
	return err == nil && len(data) > 0
}

// version asks the active strategy for its provenance string.
func version(cmd *cmdrun.Cmd, opts Options) (string, error) {
	switch opts.Strategy {
	case Build:
		out, err := cmd.CaptureStdout(exec.Command(opts.BuilderRef, "--version"))
		if err != nil {
			return "", fmt.Errorf("initialize: builder version: %w", err)
		}
		return string(out), nil
	case Download:
		return opts.DownloadBaseURL, nil
	default:
		return "", errors.New("initialize: unknown strategy")
	}
}

func runBuild(cmd *cmdrun.Cmd, dataDir string, opts Options) error {
	images := filepath.Join(dataDir, "images")
	imagesBuild := filepath.Join(dataDir, "images-build")
	if err := cmd.SpawnWait(exec.Command(opts.BuilderRef, imagesBuild, images)); err != nil {
		return fmt.Errorf("initialize: build guest images: %w", err)
	}
	// The build tree is only scaffolding for the final images.
	return cmd.RemoveAll(imagesBuild)
}

func runDownload(cmd *cmdrun.Cmd, dataDir string, opts Options) error {
	for _, f := range imageFiles {
		dst := filepath.Join(dataDir, f)
		if err := cmd.MkdirAll(filepath.Dir(dst)); err != nil {
			return err
		}
		url := opts.DownloadBaseURL + "/" + filepath.ToSlash(f)
		if err := cmd.HTTPGet(url, dst); err != nil {
			return fmt.Errorf("initialize: download image: %w", err)
		}
	}
	return nil
}

// removeImages unwinds the read-only image tree.
func removeImages(cmd *cmdrun.Cmd, images string) error {
	if err := cmd.SpawnWait(exec.Command("chmod", "-R", "u+w", images)); err != nil {
		return fmt.Errorf("initialize: chmod images: %w", err)
	}
	return cmd.RemoveAll(images)
}
