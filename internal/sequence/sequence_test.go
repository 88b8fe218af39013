package sequence

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/example/ride-dispatch/internal/logging"
)

// fakeSeqStore implements storage.SequenceStore for tests.
type fakeSeqStore struct {
	value   int64
	failInc bool
	resets  []int64
}

func (f *fakeSeqStore) IncrementSequence(ctx context.Context) (int64, error) {
	if f.failInc {
		return 0, errors.New("storage down")
	}
	f.value++
	return f.value, nil
}

func (f *fakeSeqStore) ResetSequence(ctx context.Context, v int64) error {
	f.resets = append(f.resets, v)
	f.value = v
	return nil
}

var idFormat = regexp.MustCompile(`^RID\d{6}$`)

func TestNextIsUniqueAndFormatted(t *testing.T) {
	g := NewGenerator(&fakeSeqStore{value: 100000}, logging.NewLogger("error"))
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		id := g.Next(context.Background())
		if !idFormat.MatchString(id) {
			t.Fatalf("bad id format: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestNextWrapsAtCeiling(t *testing.T) {
	f := &fakeSeqStore{value: 999999}
	g := NewGenerator(f, logging.NewLogger("error"))
	id := g.Next(context.Background())
	if id != "RID100000" {
		t.Fatalf("expected RID100000 after wraparound, got %s", id)
	}
	if len(f.resets) != 1 || f.resets[0] != 100000 {
		t.Fatalf("expected durable reset to 100000, got %v", f.resets)
	}
	// counter continues from the floor
	if next := g.Next(context.Background()); next != "RID100001" {
		t.Fatalf("expected RID100001, got %s", next)
	}
}

func TestNextFallsBackOnStorageFailure(t *testing.T) {
	g := NewGenerator(&fakeSeqStore{failInc: true}, logging.NewLogger("error"))
	id := g.Next(context.Background())
	if !strings.HasPrefix(id, "RID") || !idFormat.MatchString(id) {
		t.Fatalf("fallback id not RID+6 digits: %s", id)
	}
}
