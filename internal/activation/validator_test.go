package activation

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/clock"
	apperrors "keygate/internal/errors"
	"keygate/internal/registry"
	"keygate/pkg/contracts/domain"
)

func TestActivate_EmptyCode(t *testing.T) {
	for _, input := range []string{"", "   ", "--- --"} {
		t.Run(input, func(t *testing.T) {
			f := newFixture(t)

			assert.Equal(t, domain.Empty(), f.activate(t, input))
			assert.Nil(t, f.record(t), "no record created")
		})
	}
}

func TestActivate_EmptyCodeLeavesExistingRecordUntouched(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, permanentCode).OK())
	before := f.record(t)

	f.clock.Advance(time.Hour)
	assert.Equal(t, domain.Empty(), f.activate(t, ""))
	assert.Equal(t, before, f.record(t))
}

func TestActivate_UnknownCode(t *testing.T) {
	f := newFixture(t)

	result := f.activate(t, "ZZZZ-0000-0000-0000")
	assert.Equal(t, domain.ResultInvalid, result.Kind)
	assert.Equal(t, domain.ReasonNotRecognized, result.Reason)
	assert.Nil(t, f.record(t))
}

func TestActivate_CreatesRecord(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, domain.Success(), f.activate(t, combinedCode))

	rec := f.record(t)
	require.NotNil(t, rec)
	assert.Equal(t, registry.Normalize(combinedCode), rec.Code)
	assert.Equal(t, 0, rec.UsageCount)
	assert.True(t, rec.ActivatedAtWall.Equal(epoch))
	assert.Equal(t, time.Hour, rec.ActivatedAtMonotonic)
	assert.Nil(t, rec.DeviceID, "unbound codes carry no device id")
}

func TestActivate_NormalizesInput(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, domain.Success(), f.activate(t, "  k7qd 2mxp_99ab "))
	assert.Equal(t, domain.Success(), f.activate(t, combinedCode), "same code, different formatting")
}

func TestActivate_Idempotent(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, domain.Success(), f.activate(t, timeCode))
	first := f.record(t)
	assert.Equal(t, domain.Success(), f.activate(t, timeCode))
	second := f.record(t)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.ActivatedAtWall, second.ActivatedAtWall)
	assert.Equal(t, first.UsageCount, second.UsageCount)
}

func TestActivate_DifferentCodeWhileValid(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, permanentCode).OK())

	assert.Equal(t, domain.AlreadyActivated(), f.activate(t, timeCode))
	assert.Equal(t, registry.Normalize(permanentCode), f.record(t).Code, "live activation not overwritten")
}

func TestActivate_DifferentCodeAfterExpiryIsTerminal(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())
	f.clock.Advance(week + time.Minute)

	assert.Equal(t, domain.Expired(), f.activate(t, permanentCode))
	assert.Equal(t, registry.Normalize(timeCode), f.record(t).Code)
}

func TestTimeLimited_ExpiresAtLimit(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	f.clock.Advance(week - time.Millisecond)
	st := f.currentStatus(t)
	require.NotNil(t, st)
	assert.True(t, st.IsValid)
	assert.Equal(t, domain.StateActive, st.State)

	f.clock.Advance(2 * time.Millisecond)
	st = f.currentStatus(t)
	assert.False(t, st.IsValid)
	assert.Equal(t, domain.Expired(), st.Result)
	assert.Equal(t, domain.StateExpired, st.State)

	assert.Equal(t, domain.Expired(), f.check(t))
	assert.Equal(t, domain.Expired(), f.activate(t, timeCode), "same code re-evaluated, not renewed")
}

func TestUsageLimited_ExactlyNUses(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, usageCode).OK())

	for i := 1; i <= 3; i++ {
		assert.Equal(t, domain.Success(), f.recordUsage(t), "use %d", i)
	}
	assert.Equal(t, domain.UsageExceeded(), f.recordUsage(t))
	assert.Equal(t, domain.UsageExceeded(), f.recordUsage(t))

	assert.Equal(t, 3, f.record(t).UsageCount, "never incremented past the limit")

	st := f.currentStatus(t)
	assert.Equal(t, domain.UsageExceeded(), st.Result)
	assert.Equal(t, 0, *st.RemainingUsage)
}

func TestRecordUsage_ConcurrentCallsNeverOvershoot(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, usageCode).OK())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.validator.RecordUsage(context.Background())
			assert.NoError(t, err)
			if result.OK() {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Equal(t, 3, f.record(t).UsageCount)
}

func TestRecordUsage_NoRecord(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, domain.Invalid(domain.ReasonNotActivated), f.recordUsage(t))
	assert.Equal(t, domain.Invalid(domain.ReasonNotActivated), f.check(t))
	assert.Nil(t, f.record(t))
}

func TestRecordUsage_WithoutUsageLimitCountsNothing(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, permanentCode).OK())

	for i := 0; i < 5; i++ {
		assert.Equal(t, domain.Success(), f.recordUsage(t))
	}
	assert.Equal(t, 0, f.record(t).UsageCount)
}

func TestDeviceBinding(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, boundCode).OK())

	rec := f.record(t)
	require.NotNil(t, rec.DeviceID)
	assert.Equal(t, "device-a", *rec.DeviceID)

	f.device.set("device-b", nil)

	assert.Equal(t, domain.DeviceMismatch(), f.check(t))
	assert.Equal(t, domain.DeviceMismatch(), f.activate(t, boundCode))
	assert.Equal(t, domain.DeviceMismatch(), f.recordUsage(t))

	st := f.currentStatus(t)
	assert.Equal(t, domain.StateInvalid, st.State)
	assert.Equal(t, "device-a", *st.DeviceID)
}

func TestDeviceMismatchPrecedesExpiry(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, boundTimeCode).OK())

	f.clock.Advance(2 * time.Hour)
	f.device.set("device-b", nil)

	assert.Equal(t, domain.DeviceMismatch(), f.check(t))
}

func TestIdentityFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.device.set("", apperrors.ErrIdentity)

	_, err := f.validator.Activate(context.Background(), boundCode)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIdentity)
	assert.Nil(t, f.record(t))

	assert.Equal(t, domain.Success(), f.activate(t, permanentCode), "unbound codes never consult identity")
}

func TestClockRollback(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	f.clock.Advance(time.Hour)
	require.True(t, f.check(t).OK())

	f.clock.SetWall(epoch.Add(-3 * time.Hour))

	assert.Equal(t, domain.Expired(), f.check(t))

	f.clock.SetWall(epoch.Add(2 * time.Hour))
	assert.Equal(t, domain.Expired(), f.check(t), "tamper flag is sticky")
	assert.True(t, f.record(t).ClockTampered)

	st := f.currentStatus(t)
	assert.Equal(t, int64(0), *st.RemainingTimeMs)
}

func TestClockRollbackWithinToleranceIsIgnored(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	f.clock.Advance(time.Hour)
	f.clock.SetWall(f.clock.Now().Wall.Add(-time.Minute))

	assert.Equal(t, domain.Success(), f.check(t))
	assert.False(t, f.record(t).ClockTampered)
}

func TestValidatorUsesGuardTolerance(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	strict := NewValidator(f.registry, f.store, clock.NewGuard(f.clock, 10*time.Second), f.device)

	f.clock.Advance(time.Hour)
	f.clock.SetWall(f.clock.Now().Wall.Add(-30 * time.Second))

	result, err := strict.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Expired(), result, "30s rollback exceeds a 10s tolerance")
	assert.True(t, f.record(t).ClockTampered)
}

func TestForwardWallJumpDoesNotTamper(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	f.clock.Advance(time.Minute)
	f.clock.SetWall(epoch.Add(30 * day))

	assert.Equal(t, domain.Success(), f.check(t), "elapsed follows the monotonic clock")
	st := f.currentStatus(t)
	assert.True(t, st.IsValid)
	assert.Greater(t, *st.RemainingTimeMs, (week - time.Hour).Milliseconds())
}

func TestRollbackOnlyRestrictsNonTimeCodes(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, permanentCode).OK())

	f.clock.Advance(time.Hour)
	f.clock.SetWall(epoch.Add(-day))

	assert.Equal(t, domain.Success(), f.check(t))
	assert.True(t, f.record(t).ClockTampered, "tampering is still recorded")
}

func TestElapsedAccruesAcrossReboots(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	f.clock.Advance(2 * day)
	require.True(t, f.check(t).OK())

	f.clock.Reboot(day, "boot-2")
	f.clock.Advance(time.Hour)
	require.True(t, f.check(t).OK())

	rec := f.record(t)
	assert.Equal(t, 3*day+time.Hour, rec.AccruedElapsed)
	assert.Equal(t, "boot-2", rec.LastSeenBootID)

	st := f.currentStatus(t)
	assert.Equal(t, (week - 3*day - time.Hour).Milliseconds(), *st.RemainingTimeMs)
}

func TestRollbackAcrossRebootIsDetected(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())

	f.clock.Advance(day)
	require.True(t, f.check(t).OK())

	f.clock.Reboot(time.Minute, "boot-2")
	f.clock.SetWall(epoch.Add(-day))

	assert.Equal(t, domain.Expired(), f.check(t))
}

func TestCombinedScenario(t *testing.T) {
	t.Run("usage exhausted within time", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, domain.Success(), f.activate(t, combinedCode))
		assert.Equal(t, 0, f.record(t).UsageCount)

		for i := 0; i < 3; i++ {
			f.clock.Advance(time.Hour)
			assert.Equal(t, domain.Success(), f.recordUsage(t))
		}
		assert.Equal(t, domain.UsageExceeded(), f.recordUsage(t))
	})

	t.Run("time exhausted with usage left", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, domain.Success(), f.activate(t, combinedCode))

		f.clock.Advance(8 * day)
		st := f.currentStatus(t)
		assert.False(t, st.IsValid)
		assert.Equal(t, domain.Expired(), st.Result)
		assert.Equal(t, 3, *st.RemainingUsage)
	})

	t.Run("both exhausted reports expiry", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, domain.Success(), f.activate(t, combinedCode))
		for i := 0; i < 3; i++ {
			require.True(t, f.recordUsage(t).OK())
		}

		f.clock.Advance(8 * day)
		assert.Equal(t, domain.Expired(), f.check(t))
		assert.Equal(t, domain.Expired(), f.recordUsage(t))
	})
}

func TestWithdrawnCode(t *testing.T) {
	dir := t.TempDir()
	full, err := registry.New(testCodes())
	require.NoError(t, err)

	f := newFixtureWith(t, full, dir)
	require.True(t, f.activate(t, timeCode).OK())

	reduced, err := registry.New(testCodes()[:1])
	require.NoError(t, err)
	g := newFixtureWith(t, reduced, dir)

	assert.Equal(t, domain.Invalid(domain.ReasonCodeWithdrawn), g.check(t))
	assert.Equal(t, domain.Invalid(domain.ReasonCodeWithdrawn), g.activate(t, permanentCode))

	st := g.currentStatus(t)
	assert.Equal(t, domain.StateInvalid, st.State)
	assert.Empty(t, st.CodeType)
}

func TestStorageFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, permanentCode).OK())

	require.NoError(t, os.WriteFile(f.store.Path(), []byte(`{"schema":"keygate.activation-record","version":1,"record":{},"signature":"00"}`), 0o600))

	_, err := f.validator.Check(context.Background())
	assert.True(t, apperrors.IsStorageError(err))
	assert.ErrorIs(t, err, apperrors.ErrRecordTampered)

	_, err = f.validator.Activate(context.Background(), permanentCode)
	assert.True(t, apperrors.IsStorageError(err))

	st, err := f.status.Status(context.Background())
	assert.Nil(t, st)
	assert.True(t, apperrors.IsStorageError(err))
}

func TestDeletedRecordDoesNotReset(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.activate(t, timeCode).OK())
	f.clock.Advance(week + time.Hour)
	require.Equal(t, domain.Expired(), f.check(t))

	require.NoError(t, os.Remove(f.store.Path()))

	_, err := f.validator.Activate(context.Background(), timeCode)
	assert.ErrorIs(t, err, apperrors.ErrRecordMissing)
}

func TestConcurrentActivationOfDifferentCodes(t *testing.T) {
	f := newFixture(t)

	codes := []string{permanentCode, usageCode}
	results := make([]domain.ActivationResult, len(codes))

	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			result, err := f.validator.Activate(context.Background(), code)
			assert.NoError(t, err)
			results[i] = result
		}(i, code)
	}
	wg.Wait()

	kinds := []domain.ResultKind{results[0].Kind, results[1].Kind}
	assert.ElementsMatch(t, []domain.ResultKind{domain.ResultSuccess, domain.ResultAlreadyActivated}, kinds)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.validator.Activate(ctx, permanentCode)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, f.record(t))
}
