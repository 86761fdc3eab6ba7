// Package cos provides common low-level types and utilities shared across
// the engine: release assertions, typed errors, and process-fatal helpers.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos_test

import (
	"errors"

	"github.com/llnl/ygm/cmn/cos"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Errs", func() {
	It("dedups identical errors by message", func() {
		var e cos.Errs
		e.Add(errors.New("boom"))
		e.Add(errors.New("boom"))
		Expect(e.Cnt()).To(Equal(1))
	})

	It("caps accumulation at maxErrs", func() {
		var e cos.Errs
		for i := 0; i < 10; i++ {
			e.Add(errors.New(string(rune('a' + i))))
		}
		Expect(e.Cnt()).To(Equal(4))
	})

	It("reports zero count as empty error string", func() {
		var e cos.Errs
		Expect(e.Error()).To(Equal(""))
	})

	It("mentions additional error count once more than one error is present", func() {
		var e cos.Errs
		e.Add(errors.New("first"))
		e.Add(errors.New("second"))
		Expect(e.Error()).To(ContainSubstring("and 1 more error"))
	})
})

var _ = Describe("ErrNotFound", func() {
	It("round-trips through IsErrNotFound", func() {
		err := cos.NewErrNotFound("widget %q", "gadget")
		Expect(cos.IsErrNotFound(err)).To(BeTrue())
		Expect(cos.IsErrNotFound(errors.New("other"))).To(BeFalse())
	})
})
