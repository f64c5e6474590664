package session_test

import (
	"time"

	"github.com/docforge/toolkit-client/internal/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("notifier", func() {
	It("dismisses notices after the timeout", func() {
		n := session.NewNotifier(50*time.Millisecond, nil)
		defer n.Stop()

		n.Show(session.LevelError, "Connection error")
		Expect(n.Active()).To(HaveLen(1))
		Eventually(n.Active).Should(BeEmpty())
	})

	It("dismisses one notice without touching the others", func() {
		var last []session.Notice
		n := session.NewNotifier(time.Minute, func(active []session.Notice) { last = active })
		defer n.Stop()

		first := n.Show(session.LevelError, "one")
		n.Show(session.LevelInfo, "two")
		n.Dismiss(first.ID)

		Expect(last).To(HaveLen(1))
		Expect(last[0].Message).To(Equal("two"))
		n.Dismiss(first.ID)
		Expect(n.Active()).To(HaveLen(1))
	})

	It("defaults to three seconds", func() {
		Expect(session.DefaultNoticeTimeout).To(Equal(3 * time.Second))
	})
})
