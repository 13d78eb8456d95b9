package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

func fixedNow() time.Time { return baseTime }

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, append([]ServiceOption{WithServiceClock(fixedNow)}, opts...)...), store
}

func TestService_UserActivity(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t)
	day := 24 * time.Hour
	seed(t, store,
		entry("alice", "t1", "", models.AuditStatusSuccess, day),
		entry("alice", "t1", "", models.AuditStatusSuccess, 100*day),
		entry("alice", "t2", "", models.AuditStatusSuccess, day),
		entry("bob", "t1", "", models.AuditStatusSuccess, day),
	)
	alice := auth.Identity{Subject: "alice", TenantID: "t1"}

	got, err := svc.UserActivity(context.Background(), alice, 0, Page{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, got, 1, "default look-back is 90 days")

	got, _ = svc.UserActivity(context.Background(), alice, 365, Page{Limit: 100})
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "t1", e.TenantID, "same subject in another tenant is not matched")
	}

	_, err = svc.UserActivity(context.Background(), auth.Identity{Subject: "alice"}, 0, Page{})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthorizationTenant))
}

func TestService_TenantActivityFilters(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t)
	del := entry("alice", "t1", "", models.AuditStatusBlocked, time.Hour)
	del.Action = models.AuditActionDelete
	seed(t, store, del,
		entry("bob", "t1", "", models.AuditStatusSuccess, time.Hour),
		entry("carol", "t2", "", models.AuditStatusBlocked, time.Hour),
	)
	ctx := context.Background()

	got, err := svc.TenantActivity(ctx, "t1", 30, "delete", "", Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID)

	got, err = svc.TenantActivity(ctx, "t1", 30, "", "BLOCKED", Page{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.TenantActivity(ctx, "t1", 30, "purge", "", Page{})
	assert.Equal(t, 400, sserr.FromError(err).HTTPStatus())
	_, err = svc.TenantActivity(ctx, "t1", 30, "", "pending", Page{})
	assert.Equal(t, 400, sserr.FromError(err).HTTPStatus())
}

func TestService_ResourceHistoryIsTenantScoped(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t)
	mine := entry("alice", "t1", "", models.AuditStatusSuccess, time.Hour)
	mine.ResourceID = "42"
	// Same path requested anonymously and by another tenant.
	anonymous := entry("", models.DefaultTenantID, "9.9.9.9", models.AuditStatusBlocked, time.Hour)
	anonymous.ResourceID = "42"
	theirs := entry("mallory", "t2", "", models.AuditStatusSuccess, time.Hour)
	theirs.ResourceID = "42"
	only := entry("mallory", "t2", "", models.AuditStatusSuccess, time.Hour)
	only.ResourceID = "99"
	seed(t, store, mine, anonymous, theirs, only)
	ctx := context.Background()
	alice := auth.Identity{Subject: "alice", TenantID: "t1"}

	got, err := svc.ResourceHistory(ctx, alice, "contratos", "42", Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	got, err = svc.ResourceHistory(ctx, alice, "contratos", "99", Page{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestService_FailedAndIPActivity(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t)
	seed(t, store,
		entry("a", "t1", "1.2.3.4", models.AuditStatusError, time.Hour),
		entry("a", "t1", "1.2.3.4", models.AuditStatusBlocked, time.Hour),
		entry("a", "t1", "1.2.3.4", models.AuditStatusSuccess, time.Hour),
		entry("a", "t1", "5.6.7.8", models.AuditStatusError, time.Hour),
	)
	ctx := context.Background()

	failed, err := svc.FailedActions(ctx, "t1", 7, Page{})
	require.NoError(t, err)
	assert.Len(t, failed, 3)

	byIP, err := svc.IPActivity(ctx, "t1", "1.2.3.4", 0, Page{})
	require.NoError(t, err)
	assert.Len(t, byIP, 3)
}

func TestService_Summarize(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t)
	upd := entry("bob", "t1", "", models.AuditStatusError, time.Hour)
	upd.Action = models.AuditActionUpdate
	upd.ResourceType = "pareceres"
	seed(t, store,
		entry("alice", "t1", "", models.AuditStatusSuccess, time.Hour),
		entry("alice", "t1", "", models.AuditStatusSuccess, 2*time.Hour),
		upd,
		entry("carol", "t2", "", models.AuditStatusSuccess, time.Hour),
	)

	sum, err := svc.Summarize(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalActions)
	assert.Equal(t, map[string]int{"READ": 2, "UPDATE": 1}, sum.Actions)
	assert.Equal(t, map[string]int{"success": 2, "error": 1}, sum.Statuses)
	assert.Equal(t, map[string]int{"contratos": 2, "pareceres": 1}, sum.Resources)
	assert.Equal(t, 2, sum.UniqueUsers)
	assert.Equal(t, baseTime.AddDate(0, 0, -30), sum.DateRange.From)
	assert.Equal(t, baseTime, sum.DateRange.To)
}

type mockArchive struct {
	mock.Mock
}

func (m *mockArchive) Put(ctx context.Context, objectName, contentType string, data []byte) (minio.UploadInfo, error) {
	args := m.Called(ctx, objectName, contentType, data)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func TestService_CleanupArchivesThenDeletes(t *testing.T) {
	t.Parallel()
	archive := &mockArchive{}
	svc, store := newTestService(t, WithArchive(archive))
	day := 24 * time.Hour
	seed(t, store,
		entry("a", "t1", "", models.AuditStatusSuccess, 400*day),
		entry("b", "t1", "", models.AuditStatusSuccess, 370*day),
		entry("c", "t1", "", models.AuditStatusSuccess, day),
	)

	var uploaded []byte
	archive.On("Put", mock.Anything, "audit-logs/all/2024-03-01-1740830400.ndjson", ArchiveContentType, mock.Anything).
		Run(func(args mock.Arguments) { uploaded = args.Get(3).([]byte) }).
		Return(minio.UploadInfo{Size: 1}, nil).Once()

	res, err := svc.Cleanup(context.Background(), "", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Archived)
	assert.Equal(t, 1, store.Len())
	archive.AssertExpectations(t)

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(uploaded))
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestService_CleanupKeepsEntriesWhenArchiveFails(t *testing.T) {
	t.Parallel()
	archive := &mockArchive{}
	svc, store := newTestService(t, WithArchive(archive))
	seed(t, store, entry("a", "t1", "", models.AuditStatusSuccess, 400*24*time.Hour))
	archive.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("bucket missing"))

	_, err := svc.Cleanup(context.Background(), "t1", 365)
	require.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestService_CleanupWithoutArchive(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t)
	seed(t, store,
		entry("a", "t1", "", models.AuditStatusSuccess, 40*24*time.Hour),
		entry("a", "t1", "", models.AuditStatusSuccess, time.Hour),
	)
	res, err := svc.Cleanup(context.Background(), "t1", 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Empty(t, res.Object)
}

func TestService_CleanupArchivesOnlyTheTenant(t *testing.T) {
	t.Parallel()
	archive := &mockArchive{}
	svc, store := newTestService(t, WithArchive(archive))
	day := 24 * time.Hour
	seed(t, store,
		entry("a", "t1", "", models.AuditStatusSuccess, 400*day),
		entry("b", "t2", "", models.AuditStatusSuccess, 400*day),
	)

	var uploaded []byte
	archive.On("Put", mock.Anything, "audit-logs/t1/2024-03-01-1740830400.ndjson", ArchiveContentType, mock.Anything).
		Run(func(args mock.Arguments) { uploaded = args.Get(3).([]byte) }).
		Return(minio.UploadInfo{Size: 1}, nil).Once()

	res, err := svc.Cleanup(context.Background(), "t1", 365)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Archived)
	assert.NotContains(t, string(uploaded), `"tenant_id":"t2"`)
	archive.AssertExpectations(t)

	left, _ := store.List(context.Background(), Filter{}, Page{})
	require.Len(t, left, 1)
	assert.Equal(t, "t2", left[0].TenantID)
}
