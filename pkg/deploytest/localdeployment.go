/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deploytest

import (
	"fmt"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// LocalAddresses assigns the loopback address with port basePort+rank to each of numRanks daemons.
func LocalAddresses(numRanks int, basePort int) map[t.Rank]string {
	addrs := make(map[t.Rank]string, numRanks)
	for i := 0; i < numRanks; i++ {
		addrs[t.Rank(i)] = fmt.Sprintf("127.0.0.1:%d", basePort+i)
	}
	return addrs
}
