// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"regexp"
	"sync"
)

// Compiled domain globs, kept for the life of the process.
var (
	globs    = map[string]*regexp.Regexp{}
	globLock sync.RWMutex
)

// CompileGlob compiles a label pattern, anchored at both ends.
func CompileGlob(glob string) (*regexp.Regexp, error) {
	globLock.RLock()
	compiled, ok := globs[glob]
	globLock.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := regexp.Compile("^(?:" + glob + ")$")
	if err != nil {
		return nil, err
	}

	globLock.Lock()
	globs[glob] = compiled
	globLock.Unlock()
	return compiled, nil
}

func MatchGlob(str, glob string) (_ bool, err error) {
	switch glob {
	case "", "*", ".*":
		return true, nil
	}

	compiled, err := CompileGlob(glob)
	if err != nil {
		return false, err
	}

	return compiled.MatchString(str), nil
}
