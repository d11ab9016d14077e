package channelset

import "testing"

func TestBuildChannelListSortsAndDeduplicates(test *testing.T) {
	test.Parallel()
	list := BuildChannelList([]string{"user.42", "payments", "user.42", "", "inbox"})
	expected := []string{"inbox", "payments", "user.42"}
	if !Equal(list, expected) {
		test.Fatalf("expected %v, got %v", expected, list)
	}
}

func TestEqualIsPositional(test *testing.T) {
	test.Parallel()
	if Equal([]string{"a", "b"}, []string{"b", "a"}) {
		test.Fatalf("order-insensitive equality")
	}
	if !Equal([]string{"a", "b"}, []string{"a", "b"}) {
		test.Fatalf("identical lists reported unequal")
	}
	if Equal([]string{"a"}, []string{"a", "b"}) {
		test.Fatalf("length mismatch reported equal")
	}
	if !Equal(nil, []string{}) {
		test.Fatalf("nil and empty list should compare equal")
	}
}

func TestDiffChannelSetsDecomposesBothDirections(test *testing.T) {
	test.Parallel()
	diff := DiffChannelSets([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	if !Equal(BuildChannelList(diff.Added), []string{"d"}) {
		test.Fatalf("expected added [d], got %v", diff.Added)
	}
	if !Equal(BuildChannelList(diff.Removed), []string{"a"}) {
		test.Fatalf("expected removed [a], got %v", diff.Removed)
	}
}

func TestDiffChannelSetsAddedAndRemovedAreDisjoint(test *testing.T) {
	test.Parallel()
	diff := DiffChannelSets([]string{"a", "b"}, []string{"b", "c"})
	for _, added := range diff.Added {
		for _, removed := range diff.Removed {
			if added == removed {
				test.Fatalf("topic %q in both added and removed", added)
			}
		}
	}
}

func TestDiffChannelSetsOfIdenticalSetsIsEmpty(test *testing.T) {
	test.Parallel()
	same := []string{"a", "b"}
	diff := DiffChannelSets(same, same)
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		test.Fatalf("expected empty diff, got %+v", diff)
	}
}
