package reconcile

import "testing"

func TestShouldCompleteIPayPolling(test *testing.T) {
	test.Parallel()
	if ShouldCompleteIPayPolling(1000, 900) {
		test.Fatalf("balance below baseline must not complete")
	}
	if ShouldCompleteIPayPolling(1000, 1000) {
		test.Fatalf("balance equal to baseline must not complete")
	}
	if !ShouldCompleteIPayPolling(1000, 1200) {
		test.Fatalf("balance above baseline must complete")
	}
}

func TestIPayDipBelowBaselineThenRiseStillCompletes(test *testing.T) {
	test.Parallel()
	const baseline = 1000
	observations := []int64{950, 900, 1300}
	completed := false
	for _, current := range observations {
		if ShouldCompleteIPayPolling(baseline, current) {
			completed = true
			break
		}
	}
	if !completed {
		test.Fatalf("rise above baseline after a dip must complete")
	}
}
