package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"github.com/shopspring/decimal"
)

func share(id int, target int64, assigned int) PhotographerShare {
	return PhotographerShare{ID: id, TargetPercentage: decimal.NewFromInt(target), AssignedCount: assigned}
}

func TestNormalizeSharesScalesToHundred(t *testing.T) {
	pool, anomalous := NormalizeShares([]PhotographerShare{share(1, 70, 0), share(2, 50, 0)})
	if !anomalous {
		t.Fatal("expected sum=120 to be flagged anomalous")
	}
	if got := pool[0].TargetPercentage.String(); got != "58.3333" {
		t.Errorf("first share = %s, want 58.3333", got)
	}
	if got := pool[1].TargetPercentage.String(); got != "41.6667" {
		t.Errorf("second share = %s, want 41.6667", got)
	}
}

func TestNormalizeSharesLeavesValidPoolAlone(t *testing.T) {
	pool, anomalous := NormalizeShares([]PhotographerShare{share(1, 60, 3), share(2, 40, 1)})
	if anomalous {
		t.Fatal("sum=100 must not be flagged")
	}
	if !pool[0].TargetPercentage.Equal(decimal.NewFromInt(60)) {
		t.Errorf("share changed: %s", pool[0].TargetPercentage)
	}
}

func TestPickAssigneeConvergesToTargets(t *testing.T) {
	pool := []PhotographerShare{share(1, 60, 0), share(2, 40, 0)}

	counts := map[int]int{}
	for i := 0; i < 100; i++ {
		id, err := pickAssignee(pool)
		if err != nil {
			t.Fatalf("pickAssignee: %v", err)
		}
		counts[id]++
		for j := range pool {
			if pool[j].ID == id {
				pool[j].AssignedCount++
			}
		}
	}

	if counts[1] < 59 || counts[1] > 61 {
		t.Errorf("photographer 1 got %d of 100, want 60±1", counts[1])
	}
	if counts[2] < 39 || counts[2] > 41 {
		t.Errorf("photographer 2 got %d of 100, want 40±1", counts[2])
	}
}

func TestPickAssigneeTieBreakIsDeterministic(t *testing.T) {
	pool := []PhotographerShare{share(2, 50, 0), share(1, 50, 0)}

	id, err := pickAssignee(pool)
	if err != nil {
		t.Fatalf("pickAssignee: %v", err)
	}
	// Equal deficit and equal counts: lowest id wins regardless of slice order.
	if id != 1 {
		t.Errorf("tie broke to %d, want 1", id)
	}

	pool = []PhotographerShare{share(1, 50, 5), share(2, 50, 2)}
	id, err = pickAssignee(pool)
	if err != nil {
		t.Fatalf("pickAssignee: %v", err)
	}
	if id != 2 {
		t.Errorf("deficit pick = %d, want 2 (fewer assigned)", id)
	}
}

func TestPickAssigneeEmptyPool(t *testing.T) {
	_, err := pickAssignee(nil)
	if !errors.Is(err, utils.ErrAssignmentPoolEmpty) {
		t.Fatalf("err = %v, want ErrAssignmentPoolEmpty", err)
	}
}

func TestPoolWithoutCapacity(t *testing.T) {
	if poolHasCapacity(nil) {
		t.Error("empty pool must have no capacity")
	}
	allZero := []PhotographerShare{share(1, 0, 0), share(2, 0, 3)}
	if poolHasCapacity(allZero) {
		t.Error("all-zero targets must have no capacity")
	}
	if _, err := pickAssignee(allZero); !errors.Is(err, utils.ErrAssignmentPoolEmpty) {
		t.Fatalf("err = %v, want ErrAssignmentPoolEmpty", err)
	}
	if !poolHasCapacity([]PhotographerShare{share(1, 0, 0), share(2, 40, 0)}) {
		t.Error("one positive target is enough capacity")
	}
}

func TestPickAssigneeZeroTargetStaysIdle(t *testing.T) {
	pool := []PhotographerShare{share(1, 100, 0), share(2, 0, 0)}
	for i := 0; i < 20; i++ {
		id, err := pickAssignee(pool)
		if err != nil {
			t.Fatalf("pickAssignee: %v", err)
		}
		if id != 1 {
			t.Fatalf("iteration %d assigned to zero-target photographer", i)
		}
		pool[0].AssignedCount++
	}
}
