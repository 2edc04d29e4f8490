package store

import "testing"

func TestBuildApprovalStatus(t *testing.T) {
	cases := []struct {
		name                               string
		total, approved, rejected, pending int
		wantPercentage                     float64
		wantComplete                       bool
	}{
		{"no approvals", 0, 0, 0, 0, 0, true},
		{"all approved", 3, 3, 0, 0, 100, true},
		{"partially approved", 4, 1, 0, 3, 25, false},
		{"rejected blocks completion", 3, 2, 1, 0, 200.0 / 3.0, false},
		{"escalated counts as open", 2, 1, 0, 1, 50, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildApprovalStatus(tc.total, tc.approved, tc.rejected, tc.pending)
			if got.Total != tc.total || got.Approved != tc.approved || got.Rejected != tc.rejected || got.Pending != tc.pending {
				t.Fatalf("counts echoed wrong: %+v", got)
			}
			if diff := got.Percentage - tc.wantPercentage; diff > 0.0001 || diff < -0.0001 {
				t.Fatalf("percentage = %v, want %v", got.Percentage, tc.wantPercentage)
			}
			if got.Complete != tc.wantComplete {
				t.Fatalf("complete = %v, want %v", got.Complete, tc.wantComplete)
			}
		})
	}
}
