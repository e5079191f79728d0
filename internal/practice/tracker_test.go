package practice_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/misssmart/internal/practice"
)

func TestTracker_ObserveAndRemaining(t *testing.T) {
	t.Parallel()

	tr := practice.NewTracker(nil)
	tr.Reset([]string{"cat", "good morning", "run"})

	if hits := tr.Observe("Good morning! A cat, a cat."); len(hits) == 0 {
		t.Fatal("Observe() returned no hits")
	}
	tr.Observe("the cat sat")

	got := tr.Practiced()
	if len(got) != 2 {
		t.Fatalf("Practiced() = %+v; want 2 words", got)
	}
	if got[0].Word != "cat" {
		t.Errorf("Practiced()[0] = %+v; want cat first", got[0])
	}
	if got[1].Word != "good morning" || got[1].Times != 1 {
		t.Errorf("Practiced()[1] = %+v; want good morning once", got[1])
	}

	rem := tr.Remaining()
	if len(rem) != 1 || rem[0] != "run" {
		t.Errorf("Remaining() = %v; want [run]", rem)
	}
}

func TestTracker_ObserveWithoutVocabulary(t *testing.T) {
	t.Parallel()

	tr := practice.NewTracker(practice.New())
	if hits := tr.Observe("hello there"); hits != nil {
		t.Errorf("Observe() = %v; want nil", hits)
	}
	if got := tr.Practiced(); len(got) != 0 {
		t.Errorf("Practiced() = %+v; want empty", got)
	}
}

func TestTracker_ResetClearsTally(t *testing.T) {
	t.Parallel()

	tr := practice.NewTracker(nil)
	tr.Reset([]string{"dog"})
	tr.Observe("dog")
	tr.Reset([]string{"dog", "fish"})

	if got := tr.Practiced(); len(got) != 0 {
		t.Errorf("Practiced() after Reset = %+v; want empty", got)
	}
	if got := tr.Remaining(); len(got) != 2 {
		t.Errorf("Remaining() after Reset = %v; want 2 words", got)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	t.Parallel()

	tr := practice.NewTracker(nil)
	tr.Reset([]string{"apple"})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Observe("apple")
		}()
	}
	wg.Wait()

	got := tr.Practiced()
	if len(got) != 1 || got[0].Times != 20 {
		t.Errorf("Practiced() = %+v; want apple 20 times", got)
	}
}
