// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package comms implements the inter-node side of the interpreter's
// collective/point-to-point operations (spec.md §4.6) on top of NATS,
// standing in for the external message-passing substrate (MPI-like
// send/recv/isend/irecv/bcast/reduce/barrier) the host monitor proxies
// requests to when a core's target lies on another node.
package comms

// GlobalID computes the flat, cluster-wide core id spec.md §4.6 routes
// SEND/RECV/BCAST/REDUCE targets by.
func GlobalID(nodeID, localID, totalCores int) int {
	return nodeID*totalCores + localID
}

// ResolveRank implements the corrected rank formula from spec.md §9's
// Open Question: globalId / TotalCores, not the legacy
// (globalId+1) / TotalCores variant.
func ResolveRank(globalID, totalCores int) int {
	if totalCores <= 0 {
		return 0
	}
	return globalID / totalCores
}
