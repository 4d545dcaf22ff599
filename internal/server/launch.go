package server

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ArchiveName is the runnable server archive looked up in the install root.
	ArchiveName = "server.jar"
	// RunLogDir holds one captured output file per run.
	RunLogDir = "bot-logs"

	noGUIFlag      = "nogui"
	defaultRuntime = "java"
)

// LauncherScripts are tried in order when no server.jar exists.
var LauncherScripts = []string{"run.sh", "serverstart.sh", "startserver.sh", "start.sh"}

type launchPlan struct {
	archive string
	script  string
}

func (p launchPlan) usesScript() bool {
	return p.script != ""
}

func findLauncher(dir string) (launchPlan, error) {
	archive := filepath.Join(dir, ArchiveName)
	if isRegularFile(archive) {
		return launchPlan{archive: archive}, nil
	}
	for _, name := range LauncherScripts {
		script := filepath.Join(dir, name)
		if isRegularFile(script) {
			return launchPlan{script: script}, nil
		}
	}
	return launchPlan{}, ErrNoLauncher
}

// buildCommand assembles the child invocation. Scripts read their heap from
// user_jvm_args.txt, so only archive launches carry -Xmx/-Xms.
func buildCommand(dir string, plan launchPlan, java string, maxHeapGB, initHeapGB int) *exec.Cmd {
	var cmd *exec.Cmd
	if plan.usesScript() {
		cmd = exec.Command("sh", plan.script, noGUIFlag)
	} else {
		cmd = exec.Command(java,
			fmt.Sprintf("-Xmx%dG", maxHeapGB),
			fmt.Sprintf("-Xms%dG", initHeapGB),
			"-jar", ArchiveName,
			noGUIFlag,
		)
	}
	cmd.Dir = dir
	cmd.Env = runtimeEnv(os.Environ(), java)
	cmd.SysProcAttr = sysProcAttr()
	return cmd
}

// runtimeEnv puts the resolved runtime first on PATH and points JAVA_HOME
// at it. A bare "java" leaves the environment alone.
func runtimeEnv(base []string, java string) []string {
	if !filepath.IsAbs(java) {
		return base
	}
	binDir := filepath.Dir(java)
	home := filepath.Dir(binDir)

	env := make([]string, 0, len(base)+2)
	path := ""
	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		switch {
		case strings.EqualFold(key, "PATH"):
			path = value
		case strings.EqualFold(key, "JAVA_HOME"):
		default:
			env = append(env, kv)
		}
	}
	if path != "" {
		path = binDir + string(os.PathListSeparator) + path
	} else {
		path = binDir
	}
	return append(env, "PATH="+path, "JAVA_HOME="+home)
}

// openRunLog creates bot-logs/<timestamp>.log under dir. Existing files
// are never reused; a numeric suffix is added on collision.
func openRunLog(dir string, now time.Time) (*os.File, string, error) {
	logDir := filepath.Join(dir, RunLogDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory: %w", err)
	}

	stamp := now.Format("2006-01-02_15-04-05")
	for attempt := 0; attempt < 100; attempt++ {
		name := stamp + ".log"
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.log", stamp, attempt)
		}
		path := filepath.Join(logDir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to open log file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to open log file: too many runs at %s", stamp)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
