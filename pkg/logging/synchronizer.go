/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import "sync"

type synchronizedLogger struct {
	logger Logger
	mutex  sync.Mutex
}

func (sl *synchronizedLogger) Log(level LogLevel, text string, args ...interface{}) {
	sl.mutex.Lock()
	sl.logger.Log(level, text, args...)
	sl.mutex.Unlock()
}

// Synchronize serializes calls to a Logger shared by several daemons of one process,
// e.g., all the daemons of a local test deployment writing to the same buffer.
func Synchronize(logger Logger) Logger {
	return &synchronizedLogger{
		logger: logger,
	}
}
