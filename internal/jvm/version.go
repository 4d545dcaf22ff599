package jvm

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMajor is used whenever a game version cannot be parsed.
const DefaultMajor = 17

var (
	versionToken = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

	manifestArchive = regexp.MustCompile(`server-(\d+\.\d+(?:\.\d+)?)\.jar`)
	startupBanner   = regexp.MustCompile(`Starting minecraft server version (\d+\.\d+(?:\.\d+)?)`)

	// Root archive conventions, checked in order for every jar.
	archivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`minecraft_server\.(\d+\.\d+(?:\.\d+)?)\.jar`),
		regexp.MustCompile(`forge-(\d+\.\d+(?:\.\d+)?)-`),
		regexp.MustCompile(`paper(?:clip)?-(\d+\.\d+(?:\.\d+)?)-`),
		regexp.MustCompile(`fabric-.*?(\d+\.\d+(?:\.\d+)?)(?:[^\d]|$)`),
	}
)

// Version is a parsed game version triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion extracts the first major.minor[.patch] token from text.
func ParseVersion(text string) (Version, bool) {
	m := versionToken.FindStringSubmatch(text)
	if m == nil {
		return Version{}, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, false
	}
	patch := 0
	if m[3] != "" {
		if patch, err = strconv.Atoi(m[3]); err != nil {
			return Version{}, false
		}
	}
	return Version{Major: major, Minor: minor, Patch: patch}, true
}

// String formats the version, leaving out a zero patch.
func (v Version) String() string {
	if v.Patch != 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// RequiredMajor maps a game version string to the Java major it needs.
//
//	1.16.x and older   -> 8
//	1.17.x             -> 16
//	1.18 .. 1.20.4     -> 17
//	1.20.5+, 1.21+     -> 21
func RequiredMajor(version string) int {
	v, ok := ParseVersion(version)
	if !ok {
		return DefaultMajor
	}
	switch {
	case v.Minor <= 16:
		return 8
	case v.Minor == 17:
		return 16
	case v.Minor == 20 && v.Patch >= 5:
		return 21
	case v.Minor >= 21:
		return 21
	default:
		return 17
	}
}

// DetectVersion guesses the game version of the installation at dir.
// Heuristics run in a fixed order and the first hit wins: version
// manifests, root archive names, root metadata json, then the banner
// in logs/latest.log.
func DetectVersion(dir string) (string, bool) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}

	detectors := []func(string) (string, bool){
		versionFromManifests,
		versionFromArchives,
		versionFromMetadata,
		versionFromLatestLog,
	}
	for _, detect := range detectors {
		if v, ok := detect(dir); ok {
			return v, true
		}
	}
	return "", false
}

func versionFromManifests(dir string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(dir, "versions"))
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if v, ok := ParseVersion(entry.Name()); ok {
			return v.String(), true
		}
		files, err := os.ReadDir(filepath.Join(dir, "versions", entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if m := manifestArchive.FindStringSubmatch(f.Name()); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}

func versionFromArchives(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jar") {
			continue
		}
		for _, pattern := range archivePatterns {
			if m := pattern.FindStringSubmatch(name); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}

func versionFromMetadata(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if v, ok := ParseVersion(name); ok {
			return v.String(), true
		}
	}
	return "", false
}

func versionFromLatestLog(dir string) (string, bool) {
	file, err := os.Open(filepath.Join(dir, "logs", "latest.log"))
	if err != nil {
		return "", false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if m := startupBanner.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1], true
		}
	}
	return "", false
}
