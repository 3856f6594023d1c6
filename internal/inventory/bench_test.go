package inventory

import (
	"context"
	"testing"
)

func BenchmarkApplyMovementInOut(b *testing.B) {
	_, svc := newLedgerFixture()
	ctx := context.Background()
	in := MovementInput{Type: MovementIn, ItemID: "X", WarehouseID: "W", Qty: qty("2")}
	out := MovementInput{Type: MovementOut, ItemID: "X", WarehouseID: "W", Qty: qty("1")}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.ApplyMovement(ctx, in); err != nil {
			b.Fatal(err)
		}
		if _, err := svc.ApplyMovement(ctx, out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReserveReleaseParallel(b *testing.B) {
	_, svc := newLedgerFixture()
	ctx := context.Background()
	if _, err := svc.ApplyMovement(ctx, MovementInput{Type: MovementIn, ItemID: "X", WarehouseID: "W", Qty: qty("1000000")}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			res, err := svc.CreateReservation(ctx, reserveLines(ActionReserve, "W", ReservationLineInput{ItemID: "X", Qty: qty("1")}))
			if err != nil {
				b.Error(err)
				return
			}
			if _, err := svc.ReleaseReservation(ctx, res.ID, "", ""); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
