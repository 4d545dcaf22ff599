package jvm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const defaultProbeTimeout = 5 * time.Second

var (
	releaseVersion = regexp.MustCompile(`JAVA_VERSION="([^"]+)"`)
	leadingNumber  = regexp.MustCompile(`^(\d+)`)
	quotedMajor    = regexp.MustCompile(`"(\d+)`)

	// java-17-openjdk-amd64, java-21-openjdk
	dirMajor = regexp.MustCompile(`java-(\d+)(?:[^\d]|$)`)
	// java-1.8.0-openjdk-amd64
	legacyDirMajor = regexp.MustCompile(`java-1\.(\d+)\.\d+`)
)

// Resolver locates Java runtimes on the host. The zero value is not
// usable; build one with NewResolver.
type Resolver struct {
	// Getenv reads the per-major overrides JAVA_<n> and JAVA_HOME_<n>.
	Getenv func(string) string
	// HomePatterns are glob patterns, each match being one runtime home.
	HomePatterns []string
	// LookPath finds the unqualified java binary on PATH.
	LookPath func(string) (string, error)
	// Probe runs "<bin> -version" and returns its combined output.
	Probe func(ctx context.Context, bin string) (string, error)

	ProbeTimeout time.Duration
}

// NewResolver returns a Resolver wired to the real host. Extra home
// patterns are searched after the platform defaults.
func NewResolver(extraPatterns ...string) *Resolver {
	return &Resolver{
		Getenv:       os.Getenv,
		HomePatterns: append(DefaultHomePatterns(), extraPatterns...),
		LookPath:     exec.LookPath,
		Probe:        probeVersion,
		ProbeTimeout: defaultProbeTimeout,
	}
}

// DefaultHomePatterns lists the conventional JVM install locations.
func DefaultHomePatterns() []string {
	patterns := []string{
		"/usr/lib/jvm/*",
		"/usr/lib64/jvm/*",
		"/usr/java/*",
		"/Library/Java/JavaVirtualMachines/*/Contents/Home",
	}
	for _, key := range []string{"ProgramFiles", "ProgramFiles(x86)"} {
		if pf := os.Getenv(key); pf != "" {
			patterns = append(patterns, filepath.Join(pf, "Java", "*"))
		}
	}
	return patterns
}

// FindJava returns the path of a java binary whose major version equals
// major. Lookup order: env overrides, installed homes, then java on PATH.
func (r *Resolver) FindJava(major int) (string, bool) {
	if bin, ok := r.fromEnv(major); ok {
		return bin, true
	}

	for _, home := range r.candidateHomes() {
		if m, ok := r.homeMajor(home); ok && m == major {
			return javaBinary(home), true
		}
	}

	if r.LookPath == nil {
		return "", false
	}
	bin, err := r.LookPath(javaExecutable())
	if err != nil {
		return "", false
	}
	if m, ok := r.probeMajor(bin); ok && m == major {
		return bin, true
	}
	return "", false
}

func (r *Resolver) fromEnv(major int) (string, bool) {
	if r.Getenv == nil {
		return "", false
	}
	if direct := r.Getenv(fmt.Sprintf("JAVA_%d", major)); direct != "" && isFile(direct) {
		return direct, true
	}
	if home := r.Getenv(fmt.Sprintf("JAVA_HOME_%d", major)); home != "" {
		if bin := javaBinary(home); isFile(bin) {
			return bin, true
		}
	}
	return "", false
}

// candidateHomes expands HomePatterns into homes that carry a java binary,
// keeping first-seen order.
func (r *Resolver) candidateHomes() []string {
	seen := make(map[string]struct{})
	var homes []string
	for _, pattern := range r.HomePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, home := range matches {
			if _, dup := seen[home]; dup {
				continue
			}
			if info, err := os.Stat(home); err != nil || !info.IsDir() {
				continue
			}
			if !isFile(javaBinary(home)) {
				continue
			}
			seen[home] = struct{}{}
			homes = append(homes, home)
		}
	}
	return homes
}

func (r *Resolver) homeMajor(home string) (int, bool) {
	if m, ok := ReleaseMajor(home); ok {
		return m, true
	}
	if m, ok := DirNameMajor(home); ok {
		return m, true
	}
	return r.probeMajor(javaBinary(home))
}

func (r *Resolver) probeMajor(bin string) (int, bool) {
	if r.Probe == nil {
		return 0, false
	}
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := r.Probe(ctx, bin)
	if err != nil && out == "" {
		return 0, false
	}
	return BannerMajor(out)
}

// ReleaseMajor reads JAVA_VERSION from the release file of a runtime home.
func ReleaseMajor(home string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(home, "release"))
	if err != nil {
		return 0, false
	}
	m := releaseVersion.FindSubmatch(data)
	if m == nil {
		return 0, false
	}
	value := string(m[1])
	if strings.HasPrefix(value, "1.") {
		return 8, true
	}
	n := leadingNumber.FindStringSubmatch(value)
	if n == nil {
		return 0, false
	}
	major, err := strconv.Atoi(n[1])
	if err != nil {
		return 0, false
	}
	return major, true
}

// DirNameMajor infers the major from Debian-style home directory names.
func DirNameMajor(home string) (int, bool) {
	base := filepath.Base(home)
	// java-1.x names would otherwise read as major 1
	if m := legacyDirMajor.FindStringSubmatch(base); m != nil {
		if m[1] != "8" {
			return 0, false
		}
		return 8, true
	}
	if m := dirMajor.FindStringSubmatch(base); m != nil {
		major, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return major, true
	}
	return 0, false
}

// BannerMajor parses the output of "java -version".
//
//	java version "1.8.0_402"      -> 8
//	openjdk version "17.0.9" ...  -> 17
func BannerMajor(out string) (int, bool) {
	if strings.Contains(out, `"1.`) {
		return 8, true
	}
	m := quotedMajor.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return major, true
}

func probeVersion(ctx context.Context, bin string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
	return string(out), err
}

func javaExecutable() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}

func javaBinary(home string) string {
	return filepath.Join(home, "bin", javaExecutable())
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
