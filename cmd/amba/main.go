// Command amba runs and visualises a symbolic execution session.
//
//	amba init [--force] [--build|--download]   provision guest images
//	amba run <recipe.json>                     launch and visualise a run
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"

	"golang.org/x/term"

	"github.com/vanderheijden86/amba/internal/cmdrun"
	"github.com/vanderheijden86/amba/internal/controller"
	"github.com/vanderheijden86/amba/internal/initialize"
	"github.com/vanderheijden86/amba/internal/session"
	"github.com/vanderheijden86/amba/pkg/config"
	"github.com/vanderheijden86/amba/pkg/debug"
	"github.com/vanderheijden86/amba/pkg/disasm"
	"github.com/vanderheijden86/amba/pkg/export"
	"github.com/vanderheijden86/amba/pkg/layout"
	"github.com/vanderheijden86/amba/pkg/model"
	"github.com/vanderheijden86/amba/pkg/recipe"
	"github.com/vanderheijden86/amba/pkg/ui"
	"github.com/vanderheijden86/amba/pkg/version"
	"github.com/vanderheijden86/amba/pkg/watcher"
)

func main() {
	cpuProfile := flag.String("cpu-profile", "", "Write CPU profile to file")
	versionFlag := flag.Bool("version", false, "Show version")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Printf("amba %s\n", version.Version)
		return
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fatalf("could not create CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd := cmdrun.Get()
	cfg, err := config.Load()
	if err != nil {
		fatalf("%v", err)
	}

	switch args[0] {
	case "init":
		err = runInit(cmd, cfg, args[1:])
	case "run":
		err = runRun(cmd, cfg, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: amba [flags] <init|run> ...")
	fmt.Fprintln(os.Stderr, "\nSubcommands:")
	fmt.Fprintln(os.Stderr, "  init [--force] [--build|--download]   provision guest images")
	fmt.Fprintln(os.Stderr, "  run [--headless] <recipe.json>        launch and visualise a run")
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "amba: "+format+"\n", args...)
	os.Exit(1)
}

func runInit(cmd *cmdrun.Cmd, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Reprovision even when up to date")
	build := fs.Bool("build", false, "Build guest images locally")
	download := fs.Bool("download", false, "Download prebuilt guest images")
	builderRef := fs.String("builder", "amba-build-guest-images", "Image builder executable")
	baseURL := fs.String("download-url", "https://amba-images.example.org/v1", "Prebuilt image base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var strategy initialize.Strategy
	switch {
	case *build && *download:
		return fmt.Errorf("pick one of --build and --download")
	case *build:
		strategy = initialize.Build
	case *download:
		strategy = initialize.Download
	case term.IsTerminal(int(os.Stdin.Fd())):
		var err error
		if strategy, err = initialize.PickStrategy(); err != nil {
			return err
		}
	default:
		strategy = initialize.Build
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	return initialize.Run(cmd, dataDir, initialize.Options{
		Strategy:        strategy,
		Force:           *force,
		BuilderRef:      *builderRef,
		DownloadBaseURL: *baseURL,
	})
}

func runRun(cmd *cmdrun.Cmd, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	headless := fs.Bool("headless", cfg.UI.Headless, "Run without the TUI")
	snapshotPath := fs.String("snapshot", "", "Export a final graph snapshot (svg or png) on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run wants exactly one recipe path")
	}
	recipePath := fs.Arg(0)

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	if !initialize.Initialized(dataDir) {
		return fmt.Errorf("%s has not been initialized; run `amba init` first", dataDir)
	}

	rcp, err := recipe.Load(recipePath)
	if err != nil {
		return err
	}
	debug.Log("run: recipe targets %s", rcp.ExecutablePath)

	useTUI := !*headless
	if useTUI && !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("stdout is not a terminal; pass --headless")
	}

	sess, err := session.New(cmd, dataDir)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := cmd.Copy(recipePath, filepath.Join(sess.Dir, filepath.Base(recipePath))); err != nil {
		return err
	}

	m := model.New(disasm.Fallback{})
	m.GuiLockParams(func(p *layout.EmbeddingParameters) {
		applyEmbeddingConfig(p, cfg.Embedding)
	})

	var program *ui.Program
	ctrl := controller.New(useTUI, func() {
		if program != nil {
			program.RequestRepaint()
		}
	})
	if useTUI {
		program = ui.NewProgram(m, ctrl.Tx)
	}

	// Hot-reload embedding defaults when the config file changes.
	if cfgPath, err := config.Path(); err == nil {
		w, err := watcher.New(cfgPath, watcher.WithOnChange(func() {
			reloaded, err := config.LoadFrom(cfgPath)
			if err != nil {
				debug.Log("config reload: %v", err)
				return
			}
			m.GuiLockParams(func(p *layout.EmbeddingParameters) {
				applyEmbeddingConfig(p, reloaded.Embedding)
			})
			select {
			case ctrl.Tx <- controller.EmbeddingParamsOrViewUpdated{}:
			default:
			}
		}))
		if err == nil {
			if err := w.Start(); err == nil {
				defer w.Stop()
			}
		}
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(cmd, cfg, sess, m)
	}()

	if useTUI {
		if err := program.Run(); err != nil {
			debug.Log("tui: %v", err)
		}
		// The TUI enqueues GuiShutdown on quit; wait for teardown.
	}
	err = <-runErr

	if *snapshotPath != "" {
		g := m.GuiGetGraph(m.GuiGraphToView())
		if exportErr := export.SaveSnapshot(export.SnapshotOptions{Path: *snapshotPath, Graph: g}); exportErr != nil {
			fmt.Fprintf(os.Stderr, "amba: %v\n", exportErr)
		}
	}
	if summary, sumErr := sess.Summarize(); sumErr == nil {
		fmt.Println(summary)
	}
	return err
}

func applyEmbeddingConfig(p *layout.EmbeddingParameters, e config.EmbeddingConfig) {
	p.Noise = e.Noise
	p.Attraction = e.Attraction
	p.Repulsion = e.Repulsion
	p.Gravity = e.Gravity
}
