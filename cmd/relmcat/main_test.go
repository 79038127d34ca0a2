/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openpmix/prrte-sub010/pkg/testengine"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var _ = Describe("Parsing", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "relmcat")
		Expect(err).NotTo(HaveOccurred())

		recording, err := (&testengine.Spec{
			NumRanks:      4,
			Radix:         2,
			SendsPerPair:  5,
			CacheMaxCount: 16,
			TweakRecorder: func(r *testengine.Recorder) {
				r.LogOutput = GinkgoWriter
			},
		}).Recorder().Recording(dir)
		Expect(err).NotTo(HaveOccurred())

		_, err = recording.DrainQueue(100000)
		Expect(err).NotTo(HaveOccurred())
		Expect(recording.Close()).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("parses a fully populated command line", func() {
		args, err := parseArgs([]string{
			"--input", dir,
			"--replay",
			"--radix", "2",
			"--peer", "1",
			"--peer", "2",
			"--direction", "in",
			"--kind", "StateUpdate",
			"--tag", "SENDING",
			"--tag", "ACKED",
			"--statusIndex", "30",
			"--statusIndex", "35",
			"--logLevel", "debug",
			"--verboseText",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(args.input).To(Equal(dir))
		Expect(args.replay).To(BeTrue())
		Expect(args.radix).To(Equal(2))
		Expect(args.peers).To(Equal([]t.Rank{1, 2}))
		Expect(args.direction).To(Equal("in"))
		Expect(args.kinds).To(Equal([]string{"StateUpdate"}))
		Expect(args.tags).To(Equal([]string{"SENDING", "ACKED"}))
		Expect(args.statusIndices).To(Equal([]uint64{30, 35}))
		Expect(args.verboseText).To(BeTrue())
	})

	It("rejects status indices without replay", func() {
		_, err := parseArgs([]string{
			"--input", dir,
			"--statusIndex", "3",
		})
		Expect(err).To(MatchError("cannot set status indices without --replay"))
	})

	It("prints the records of a log", func() {
		args, err := parseArgs([]string{"--input", filepath.Join(dir, "rank1")})
		Expect(err).NotTo(HaveOccurred())

		output := &bytes.Buffer{}
		Expect(args.execute(output)).To(Succeed())
		Expect(output.String()).To(HavePrefix("session="))
		Expect(output.String()).To(ContainSubstring("rank=1 ranks=4"))
		Expect(output.String()).To(ContainSubstring("SENDING [1->0 #1] prev=NONE"))
		Expect(output.String()).To(ContainSubstring("ACKACKED"))
	})

	It("filters by tag", func() {
		args, err := parseArgs([]string{
			"--input", filepath.Join(dir, "rank1"),
			"--direction", "out",
			"--tag", "ACKED",
		})
		Expect(err).NotTo(HaveOccurred())

		output := &bytes.Buffer{}
		Expect(args.execute(output)).To(Succeed())
		Expect(output.String()).To(ContainSubstring(" -> "))
		Expect(output.String()).NotTo(ContainSubstring(" <- "))
		Expect(output.String()).NotTo(ContainSubstring("SENDING"))
	})

	It("replays a log and prints the status", func() {
		args, err := parseArgs([]string{
			"--input", filepath.Join(dir, "rank0"),
			"--replay",
			"--radix", "2",
			"--statusIndex", "5",
		})
		Expect(err).NotTo(HaveOccurred())

		output := &bytes.Buffer{}
		Expect(args.execute(output)).To(Succeed())
		Expect(output.String()).To(ContainSubstring("=== Buckets ==="))
		Expect(output.String()).To(ContainSubstring("Replayed"))
		Expect(output.String()).To(ContainSubstring("15 payloads delivered"))
	})
})
