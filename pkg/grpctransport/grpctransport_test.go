/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package grpctransport_test

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openpmix/prrte-sub010/pkg/grpctransport"
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var _ = Describe("GrpcTransport", func() {
	var (
		membership map[t.Rank]string
		a, b       *grpctransport.GrpcTransport
	)

	BeforeEach(func() {
		membership = map[t.Rank]string{
			0: "127.0.0.1:23100",
			1: "127.0.0.1:23101",
			2: "127.0.0.1:23102",
		}
		a = grpctransport.NewGrpcTransport(membership, 0, logging.NilLogger)
		b = grpctransport.NewGrpcTransport(membership, 1, logging.NilLogger)
		Expect(a.Start()).To(Succeed())
		Expect(b.Start()).To(Succeed())
	})

	AfterEach(func() {
		a.Stop()
		b.Stop()
	})

	It("delivers buffers in order, tagged with their sender", func() {
		doneC := make(chan error, 10)
		for i := 0; i < 10; i++ {
			a.Send(1, []byte(fmt.Sprintf("buffer-%d", i)), func(err error) { doneC <- err })
		}

		for i := 0; i < 10; i++ {
			var msg modules.ReceivedMessage
			Eventually(b.ReceiveChan()).Should(Receive(&msg))
			Expect(msg.Sender).To(Equal(t.Rank(0)))
			Expect(string(msg.Data)).To(Equal(fmt.Sprintf("buffer-%d", i)))
		}
		for i := 0; i < 10; i++ {
			Expect(<-doneC).NotTo(HaveOccurred())
		}
	})

	It("sends in both directions", func() {
		b.Send(0, []byte("pong"), func(error) {})
		var msg modules.ReceivedMessage
		Eventually(a.ReceiveChan()).Should(Receive(&msg))
		Expect(msg.Sender).To(Equal(t.Rank(1)))
		Expect(msg.Data).To(Equal([]byte("pong")))
	})

	It("reports buffers toward unknown daemons as failed", func() {
		var sendErr error
		a.Send(7, []byte("lost"), func(err error) { sendErr = err })
		Expect(sendErr).To(HaveOccurred())
	})
})
