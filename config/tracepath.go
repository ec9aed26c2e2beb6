package config

import (
	"fmt"
	"os"
	"regexp"
	"time"
)

// envTokenPattern matches the {ENV=NAME} token spec.md §6's trace
// directory naming paragraph names.
var envTokenPattern = regexp.MustCompile(`\{ENV=([^}]*)\}`)

// ExpandTracePath expands the {DATE}, {HOSTNAME}, and {ENV=NAME}
// tokens in path, per spec.md §6: "The configured trace_path is
// expanded for the tokens {DATE} (ISO-like local timestamp),
// {HOSTNAME}, and {ENV=NAME} (environment variable lookup, empty if
// unset)."
func ExpandTracePath(path string, now time.Time) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}

	date := now.Local().Format("2006-01-02T15-04-05")
	path = regexp.MustCompile(`\{DATE\}`).ReplaceAllString(path, date)
	path = regexp.MustCompile(`\{HOSTNAME\}`).ReplaceAllString(path, host)
	path = envTokenPattern.ReplaceAllStringFunc(path, func(tok string) string {
		m := envTokenPattern.FindStringSubmatch(tok)
		return os.Getenv(m[1])
	})
	return path
}

// LinkOutput publishes completed at the path named by the
// LO2S_OUTPUT_LINK environment variable, per spec.md §6: "If the
// environment variable LO2S_OUTPUT_LINK is set to a path, that path
// is replaced with a symlink to the completed trace directory; an
// existing non-symlink at that path is left alone with a warning."
// It reports whether a symlink was created.
func LinkOutput(completed string) (bool, error) {
	link := os.Getenv("LO2S_OUTPUT_LINK")
	if link == "" {
		return false, nil
	}

	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return false, fmt.Errorf("config: %s exists and is not a symlink, leaving it alone", link)
		}
		if err := os.Remove(link); err != nil {
			return false, fmt.Errorf("config: removing stale symlink %s: %w", link, err)
		}
	}

	if err := os.Symlink(completed, link); err != nil {
		return false, fmt.Errorf("config: linking %s -> %s: %w", link, completed, err)
	}
	return true, nil
}
