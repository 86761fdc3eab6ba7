// Package tassert provides small testing helpers in the style of
// aistore's tools/tassert, used by the plain-testing.T (non-ginkgo)
// suites throughout this module.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import "testing"

func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func Fatal(t *testing.T, cond bool, a ...any) {
	t.Helper()
	if !cond {
		t.Fatal(a...)
	}
}

func Errorf(t *testing.T, cond bool, format string, a ...any) {
	t.Helper()
	if !cond {
		t.Errorf(format, a...)
	}
}
