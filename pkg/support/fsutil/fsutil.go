// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for the file paths given in the command line.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to check whether %q exists", path)
}

// ExpandHome replaces a leading "~" or "~user" by the corresponding home directory.
// Paths not starting with "~" are returned unchanged.
//
// It returns an error if the user is unknown (e.g.: "~unknown/graph.yaml").
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// InputFile expands path with ExpandHome and checks that it is an existing regular file.
func InputFile(path string) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "input file %q", path)
	}
	if info.IsDir() {
		return "", errors.Errorf("input file %q is a directory", path)
	}
	return path, nil
}

// OutputFile expands path with ExpandHome and creates its parent directory, if missing.
func OutputFile(path string) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	exists, err := FileExists(dir)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrapf(err, "creating directory %q for output file", dir)
		}
	}
	return path, nil
}
