package fake

import (
	"context"
	"testing"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"
)

func TestStoppedSource(t *testing.T) {
	ctx := context.Background()

	s := New()
	defer s.Close()

	ticks, err := s.TicksCount(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ticks, test.ShouldEqual, 0)

	s.SetTicks(-42)
	ticks, err = s.TicksCount(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ticks, test.ShouldEqual, -42)
}

func TestSpinning(t *testing.T) {
	ctx := context.Background()

	s := New()
	s.SetSpeed(1000)
	s.Start(ctx)
	defer s.Close()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		ticks, err := s.TicksCount(ctx)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, ticks, test.ShouldBeGreaterThan, 0)
	})
}
