package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-multipart/source"
	"github.com/bmatcuk/doublestar/v4"
)

const fileScheme = "file://"

type localPathResolver interface {
	LocalPath(ctx context.Context, location string) (string, error)
}

// expandPaths resolves the configured locations to local files.
// Local entries are doublestar glob patterns relative to workingDir; remote URLs are downloaded.
func expandPaths(ctx context.Context, workingDir string, patterns []string, resolver localPathResolver) ([]string, error) {
	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if source.IsRemote(pattern) {
			p, err := resolver.LocalPath(ctx, pattern)
			if err != nil {
				return nil, err
			}
			add(p)
			continue
		}

		matches, err := glob(workingDir, strings.TrimPrefix(pattern, fileScheme))
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", pattern)
		}
		for _, match := range matches {
			p, err := resolver.LocalPath(ctx, match)
			if err != nil {
				return nil, err
			}
			add(p)
		}
	}

	return paths, nil
}

func glob(workingDir, pattern string) ([]string, error) {
	root := workingDir
	if filepath.IsAbs(pattern) {
		root = "/"
		pattern = strings.TrimPrefix(pattern, "/")
	}

	matches, err := doublestar.Glob(os.DirFS(root), filepath.ToSlash(pattern))
	if err != nil {
		return nil, err
	}

	var files []string
	for _, match := range matches {
		p := filepath.Join(root, filepath.FromSlash(match))
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}
