/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package eventlog_test

import (
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var _ = Describe("Recorder", func() {
	var (
		dir  string
		path string
		now  int64
	)

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "eventlog")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "rank-3")
		now = 100
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	newRecorder := func() *eventlog.Recorder {
		recorder, err := eventlog.NewRecorder(path, 3, 10,
			eventlog.TimeSourceOpt(func() int64 { now++; return now }),
		)
		Expect(err).NotTo(HaveOccurred())
		return recorder
	}

	It("records intercepted buffers in order", func() {
		recorder := newRecorder()
		Expect(recorder.Intercept(modules.Outbound, 0, []byte("first"))).To(Succeed())
		Expect(recorder.Intercept(modules.Inbound, 9, []byte("second"))).To(Succeed())
		Expect(recorder.Records()).To(Equal(uint64(2)))
		Expect(recorder.Stop()).To(Succeed())

		reader, err := eventlog.NewReader(path)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		header := reader.Header()
		Expect(header.Session).To(Equal(recorder.Session()))
		Expect(header.Rank).To(Equal(t.Rank(3)))
		Expect(header.NumRanks).To(Equal(10))
		Expect(header.Start).To(Equal(int64(101)))

		var records []*eventlog.Record
		Expect(reader.ForEach(func(r *eventlog.Record) error {
			records = append(records, r)
			return nil
		})).To(Succeed())

		Expect(records).To(HaveLen(2))
		Expect(records[0].Index).To(Equal(uint64(1)))
		Expect(records[0].Time).To(Equal(int64(102)))
		Expect(records[0].Direction).To(Equal(modules.Outbound))
		Expect(records[0].Peer).To(Equal(t.Rank(0)))
		Expect(records[0].Data).To(Equal([]byte("first")))
		Expect(records[1].Direction).To(Equal(modules.Inbound))
		Expect(records[1].Peer).To(Equal(t.Rank(9)))
		Expect(records[1].Data).To(Equal([]byte("second")))
	})

	It("refuses to overwrite an existing log", func() {
		recorder := newRecorder()
		Expect(recorder.Stop()).To(Succeed())

		_, err := eventlog.NewRecorder(path, 3, 10)
		Expect(err).To(MatchError(ContainSubstring("already exists")))
	})

	It("fails interception once stopped", func() {
		recorder := newRecorder()
		Expect(recorder.Stop()).To(Succeed())
		Expect(recorder.Intercept(modules.Inbound, 1, []byte("late"))).To(HaveOccurred())
	})

	It("uses a fresh session for every recording", func() {
		first := newRecorder()
		Expect(first.Stop()).To(Succeed())

		path = filepath.Join(dir, "rank-4")
		second := newRecorder()
		Expect(second.Stop()).To(Succeed())

		Expect(first.Session()).NotTo(Equal(second.Session()))
	})
})

var _ = Describe("Reader", func() {
	It("rejects a missing log", func() {
		dir, err := ioutil.TempDir("", "eventlog")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		_, err = eventlog.NewReader(filepath.Join(dir, "empty"))
		Expect(err).To(MatchError(ContainSubstring("empty")))
	})
})
