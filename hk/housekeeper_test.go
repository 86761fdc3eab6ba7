package hk_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/llnl/ygm/hk"
)

var _ = Describe("Housekeeper", func() {
	It("reschedules itself until it deregisters", func() {
		h := hk.New(5 * time.Millisecond)
		go h.Run()
		defer h.Stop()
		h.WaitStarted()

		fires := 0
		done := make(chan struct{})
		h.Register("count-three", func() time.Duration {
			fires++
			if fires >= 3 {
				close(done)
				return hk.UnregInterval
			}
			return 5 * time.Millisecond
		}, 5*time.Millisecond)

		Eventually(done, time.Second).Should(BeClosed())
		Expect(fires).To(Equal(3))
	})

	It("unregisters on demand", func() {
		h := hk.New(5 * time.Millisecond)
		go h.Run()
		defer h.Stop()
		h.WaitStarted()

		calls := 0
		h.Register("cancel-me", func() time.Duration {
			calls++
			return 5 * time.Millisecond
		}, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		h.Unregister("cancel-me")
		seen := calls
		time.Sleep(30 * time.Millisecond)
		Expect(calls).To(Equal(seen))
	})
})
