package comms

import "testing"

func TestGlobalID(t *testing.T) {
	cases := []struct {
		nodeID, localID, coresPerNode, want int
	}{
		{0, 0, 4, 0},
		{0, 3, 4, 3},
		{1, 0, 4, 4},
		{2, 3, 4, 11},
	}
	for _, c := range cases {
		got := GlobalID(c.nodeID, c.localID, c.coresPerNode)
		if got != c.want {
			t.Errorf("GlobalID(%d,%d,%d) = %d, want %d", c.nodeID, c.localID, c.coresPerNode, got, c.want)
		}
	}
}

// TestResolveRankUsesCorrectedFormula locks in spec.md §9's corrected
// rank formula (globalID / totalCores), not the legacy (globalID+1)
// variant that misattributes the last core of every node to the next one.
func TestResolveRankUsesCorrectedFormula(t *testing.T) {
	const coresPerNode = 4
	cases := []struct {
		globalID int
		want     int
	}{
		{0, 0},
		{3, 0},
		{4, 1},
		{7, 1},
		{11, 2},
	}
	for _, c := range cases {
		got := ResolveRank(c.globalID, coresPerNode)
		if got != c.want {
			t.Errorf("ResolveRank(%d, %d) = %d, want %d", c.globalID, coresPerNode, got, c.want)
		}
	}
}

func TestResolveRankGuardsZeroCores(t *testing.T) {
	if got := ResolveRank(5, 0); got != 0 {
		t.Errorf("ResolveRank with totalCores=0 = %d, want 0", got)
	}
}

// TestGlobalIDAndResolveRankRoundTrip confirms every local id on every
// node maps back to its owning node through ResolveRank.
func TestGlobalIDAndResolveRankRoundTrip(t *testing.T) {
	const coresPerNode = 4
	for node := 0; node < 3; node++ {
		for local := 0; local < coresPerNode; local++ {
			gid := GlobalID(node, local, coresPerNode)
			if rank := ResolveRank(gid, coresPerNode); rank != node {
				t.Errorf("node=%d local=%d: GlobalID=%d resolved to rank %d", node, local, gid, rank)
			}
		}
	}
}
