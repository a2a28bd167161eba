package activation

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keygate/internal/clock"
	"keygate/internal/registry"
	"keygate/internal/security"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

const (
	permanentCode = "PERM-0000-0001"
	timeCode      = "TIME-0000-0007"
	usageCode     = "USES-0000-0003"
	combinedCode  = "K7QD-2MXP-99AB"
	boundCode     = "DEVB-0000-0001"
	boundTimeCode = "DEVB-TIME-0001"

	week = 7 * 24 * time.Hour
	day  = 24 * time.Hour
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func durationPtr(d time.Duration) *time.Duration { return &d }
func intPtr(n int) *int                          { return &n }

func testCodes() []domain.ActivationCode {
	return []domain.ActivationCode{
		{Code: permanentCode, Type: domain.CodeTypePermanent},
		{Code: timeCode, Type: domain.CodeTypeTimeLimited, TimeLimit: durationPtr(week)},
		{Code: usageCode, Type: domain.CodeTypeUsageLimited, UsageLimit: intPtr(3)},
		{Code: combinedCode, Type: domain.CodeTypeCombined, TimeLimit: durationPtr(week), UsageLimit: intPtr(3)},
		{Code: boundCode, Type: domain.CodeTypeDeviceBound},
		{Code: boundTimeCode, Type: domain.CodeTypeTimeLimited, TimeLimit: durationPtr(time.Hour), DeviceBound: true},
	}
}

// deviceIdentity is an identity provider the test can switch or break
type deviceIdentity struct {
	mu  sync.Mutex
	id  string
	err error
}

func (d *deviceIdentity) Current(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id, d.err
}

func (d *deviceIdentity) set(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.id, d.err = id, err
}

type fixture struct {
	clock     *clock.Manual
	device    *deviceIdentity
	store     *store.FileStore
	registry  *registry.Registry
	validator *Validator
	status    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := registry.New(testCodes())
	require.NoError(t, err)

	return newFixtureWith(t, reg, t.TempDir())
}

func newFixtureWith(t *testing.T, reg *registry.Registry, dir string) *fixture {
	t.Helper()

	signer, err := security.NewSigner([]byte("test"), "activation")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewFileStore(filepath.Join(dir, store.RecordFile), signer, store.WithLogger(logger))
	require.NoError(t, err)

	f := &fixture{
		clock:    clock.NewManual(epoch, time.Hour, "boot-1"),
		device:   &deviceIdentity{id: "device-a"},
		store:    st,
		registry: reg,
	}
	guard := clock.NewGuard(f.clock, clock.DefaultTolerance)
	f.validator = NewValidator(reg, st, guard, f.device, WithLogger(logger))
	f.status = NewService(reg, st, guard, f.device, WithLogger(logger))
	return f
}

func (f *fixture) activate(t *testing.T, code string) domain.ActivationResult {
	t.Helper()
	result, err := f.validator.Activate(context.Background(), code)
	require.NoError(t, err)
	return result
}

func (f *fixture) recordUsage(t *testing.T) domain.ActivationResult {
	t.Helper()
	result, err := f.validator.RecordUsage(context.Background())
	require.NoError(t, err)
	return result
}

func (f *fixture) check(t *testing.T) domain.ActivationResult {
	t.Helper()
	result, err := f.validator.Check(context.Background())
	require.NoError(t, err)
	return result
}

func (f *fixture) currentStatus(t *testing.T) *domain.ActivationStatus {
	t.Helper()
	st, err := f.status.Status(context.Background())
	require.NoError(t, err)
	return st
}

func (f *fixture) record(t *testing.T) *domain.ActivationRecord {
	t.Helper()
	rec, err := f.store.Get(context.Background())
	require.NoError(t, err)
	return rec
}
