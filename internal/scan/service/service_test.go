package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	permitmodels "permitgate/internal/permit/models"
	permitstore "permitgate/internal/permit/store"
	"permitgate/internal/scan/models"
	scanstore "permitgate/internal/scan/store"
	"permitgate/internal/token"
)

var verifierActor = permitmodels.Actor{ID: "ver-1", Name: "V. Verifier"}

type scanFixture struct {
	svc     *Service
	permits *permitstore.MemoryStore
	scans   *scanstore.MemoryStore
	signer  *token.Signer
	now     time.Time
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	f := &scanFixture{
		permits: permitstore.NewMemory(),
		scans:   scanstore.NewMemory(),
		signer:  token.NewSigner(map[string]string{"v1": "scan-test-secret"}, "v1", "permitgate-test"),
		now:     time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(f.signer, f.permits, f.scans, nil, logger,
		WithClock(func() time.Time { return f.now }))
	return f
}

// approvedPermit stores an approved permit valid Jan 10-20 2025 and returns it
// with a signed credential.
func (f *scanFixture) approvedPermit(t *testing.T) (*permitmodels.Permit, string) {
	t.Helper()
	permit := permitmodels.NewPermit(
		"PT Vendor", "J. Officer", "cable maintenance", "substation 4", "08:00-17:00",
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
	)
	permit.ReviewStatus = permitmodels.ReviewMeets
	permit.ApprovalStatus = permitmodels.ApprovalApproved
	number := "1/01/2025"
	permit.DocumentNumber = &number
	require.NoError(t, f.permits.Create(context.Background(), permit))

	signed, err := f.signer.Sign(permit.ID, permit.ValidFrom, permit.ValidTo)
	require.NoError(t, err)
	return permit, signed
}

func (f *scanFixture) scan(t *testing.T, tok string) Result {
	t.Helper()
	res, err := f.svc.Scan(context.Background(), Input{
		Token:      tok,
		Actor:      verifierActor,
		Location:   "gate 2",
		DeviceInfo: "Chrome 120 on Linux",
	})
	require.NoError(t, err)
	return res
}

func TestScanValid(t *testing.T) {
	f := newScanFixture(t)
	permit, tok := f.approvedPermit(t)

	res := f.scan(t, tok)
	assert.Equal(t, models.OutcomeValid, res.Outcome)
	require.NotNil(t, res.Permit)
	assert.Equal(t, permit.ID, res.Permit.PermitID)
	assert.Equal(t, "1/01/2025", res.Permit.DocumentNumber)
	assert.Equal(t, "PT Vendor", res.Permit.VendorName)
}

func TestScanWindowBoundariesInclusive(t *testing.T) {
	f := newScanFixture(t)
	_, tok := f.approvedPermit(t)

	// Late on the first day still counts.
	f.now = time.Date(2025, time.January, 10, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, models.OutcomeValid, f.scan(t, tok).Outcome)

	// Any time on the last day still counts.
	f.now = time.Date(2025, time.January, 20, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, models.OutcomeValid, f.scan(t, tok).Outcome)
}

func TestScanBeforeWindow(t *testing.T) {
	f := newScanFixture(t)
	_, tok := f.approvedPermit(t)

	f.now = time.Date(2025, time.January, 9, 12, 0, 0, 0, time.UTC)
	res := f.scan(t, tok)
	assert.Equal(t, models.OutcomeExpired, res.Outcome)
	require.NotNil(t, res.Permit)
}

func TestScanAfterWindow(t *testing.T) {
	f := newScanFixture(t)
	_, tok := f.approvedPermit(t)

	f.now = time.Date(2025, time.January, 21, 0, 0, 1, 0, time.UTC)
	res := f.scan(t, tok)
	assert.Equal(t, models.OutcomeLapsed, res.Outcome)
	require.NotNil(t, res.Permit)
}

func TestScanGarbageToken(t *testing.T) {
	f := newScanFixture(t)

	res := f.scan(t, "definitely-not-a-token")
	assert.Equal(t, models.OutcomeInvalidToken, res.Outcome)
	assert.Nil(t, res.Permit)
}

func TestScanForeignKeyToken(t *testing.T) {
	f := newScanFixture(t)
	permit, _ := f.approvedPermit(t)

	other := token.NewSigner(map[string]string{"v1": "some-other-secret"}, "v1", "permitgate-test")
	forged, err := other.Sign(permit.ID, permit.ValidFrom, permit.ValidTo)
	require.NoError(t, err)

	res := f.scan(t, forged)
	assert.Equal(t, models.OutcomeInvalidToken, res.Outcome)
}

func TestScanPermitGone(t *testing.T) {
	f := newScanFixture(t)

	// Token is authentic but no permit row backs it.
	signed, err := f.signer.Sign(uuid.New(),
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	res := f.scan(t, signed)
	assert.Equal(t, models.OutcomePermitNotFound, res.Outcome)
	assert.Nil(t, res.Permit)
}

func TestScanNotApproved(t *testing.T) {
	f := newScanFixture(t)
	permit := permitmodels.NewPermit(
		"PT Vendor", "J. Officer", "cable maintenance", "substation 4", "08:00-17:00",
		time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, f.permits.Create(context.Background(), permit))
	signed, err := f.signer.Sign(permit.ID, permit.ValidFrom, permit.ValidTo)
	require.NoError(t, err)

	res := f.scan(t, signed)
	assert.Equal(t, models.OutcomeNotApproved, res.Outcome)
}

func TestEveryScanIsRecorded(t *testing.T) {
	f := newScanFixture(t)
	permit, tok := f.approvedPermit(t)
	ctx := context.Background()

	f.scan(t, tok)
	f.scan(t, "garbage")
	f.now = time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	f.scan(t, tok)

	// Two of three attempts resolved to this permit; the garbage one is
	// recorded without a permit id.
	n, err := f.scans.CountByPermit(ctx, permit.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := f.svc.History(ctx, models.Filter{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	outcomes := make(map[models.Outcome]int)
	for _, r := range page.Records {
		outcomes[r.Outcome]++
		assert.Equal(t, verifierActor.ID, r.ScannedBy)
		assert.Equal(t, "gate 2", r.Location)
	}
	assert.Equal(t, 1, outcomes[models.OutcomeValid])
	assert.Equal(t, 1, outcomes[models.OutcomeInvalidToken])
	assert.Equal(t, 1, outcomes[models.OutcomeLapsed])
}

func TestScanDoesNotMutatePermit(t *testing.T) {
	f := newScanFixture(t)
	permit, tok := f.approvedPermit(t)

	for i := 0; i < 5; i++ {
		assert.Equal(t, models.OutcomeValid, f.scan(t, tok).Outcome)
	}

	got, err := f.permits.FindByID(context.Background(), permit.ID)
	require.NoError(t, err)
	assert.Equal(t, permitmodels.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, permit.UpdatedAt, got.UpdatedAt)
}

func TestScanAppendFailureFailsTheScan(t *testing.T) {
	f := newScanFixture(t)
	_, tok := f.approvedPermit(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(f.signer, f.permits, failingStore{}, nil, logger,
		WithClock(func() time.Time { return f.now }))

	_, err := svc.Scan(context.Background(), Input{Token: tok, Actor: verifierActor})
	require.Error(t, err)
}

type failingStore struct{}

func (failingStore) Append(context.Context, models.ScanRecord) error {
	return context.DeadlineExceeded
}

func (failingStore) List(context.Context, models.Filter, models.PageRequest) (models.ScanPage, error) {
	return models.ScanPage{}, context.DeadlineExceeded
}
