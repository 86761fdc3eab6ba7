//go:build debug

// Package debug provides assertions and invariant checks that panic here
// (build tag "debug") and compile to no-ops in release builds (debug_off.go).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"
)

func ON() bool { return true }

func Infof(format string, a ...any) { fmt.Printf("[debug] "+format+"\n", a...) }
func Func(f func())                 { f() }

func Assert(cond bool, a ...any) {
	if !cond {
		panic(fmt.Sprint(a...))
	}
}

func AssertFunc(f func() bool, a ...any) {
	if !f() {
		panic(fmt.Sprint(a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		panic(fmt.Sprintf(format, a...))
	}
}

// AssertMutexLocked best-effort: sync.Mutex exposes no public "is locked"
// query, so this only documents intent at call sites; it never fires.
func AssertMutexLocked(_ *sync.Mutex) {}
func AssertRWMutexLocked(_ *sync.RWMutex)  {}
func AssertRWMutexRLocked(_ *sync.RWMutex) {}
