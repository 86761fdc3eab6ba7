// Package cos provides common low-level types and utilities shared across
// the engine: release assertions, typed errors, and process-fatal helpers.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCos(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
