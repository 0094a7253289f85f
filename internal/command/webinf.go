package command

import (
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/crypticterminal/aim/internal/liferr"
)

// locateWebInf walks root and returns the WEB-INF directory selected by
// shortest absolute path, ties broken alphabetically.
func locateWebInf(root string) (string, error) {
	var candidates []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort walk; skip unreadable entries
		}
		if d.IsDir() && d.Name() == "WEB-INF" {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", liferr.BadConfiguration("failed to scan source tree: %v", err)
	}
	if len(candidates) == 0 {
		return "", liferr.BadConfiguration("no WEB-INF directory found under %s", root)
	}
	return shortestThenAlpha(candidates), nil
}

// findAppengineWebXML locates appengine-web.xml under a previously located
// WEB-INF directory, applying the same shortest-path/alphabetical rule.
func findAppengineWebXML(webInf string) (string, error) {
	var candidates []string
	err := filepath.WalkDir(webInf, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == "appengine-web.xml" {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", liferr.BadConfiguration("failed to scan WEB-INF: %v", err)
	}
	if len(candidates) == 0 {
		return "", liferr.BadConfiguration("no appengine-web.xml found under %s", webInf)
	}
	return shortestThenAlpha(candidates), nil
}

func shortestThenAlpha(candidates []string) string {
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) < len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}
