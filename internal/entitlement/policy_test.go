package entitlement

import (
	"errors"
	"testing"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
)

func TestDefaultTableLimits(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		tier      model.PlanTier
		downloads int64
		fileSize  int64
		storage   int64
	}{
		{model.PlanFree, 50, 10 * MB, 0},
		{model.PlanPro, 500, 200 * MB, GB},
		{model.PlanBusiness, Unlimited, Unlimited, Unlimited},
	}
	for _, tt := range tests {
		l := table.For(tt.tier)
		if l.DownloadsPerMonth != tt.downloads || l.MaxFileSizeBytes != tt.fileSize || l.StorageBytes != tt.storage {
			t.Errorf("%s: unexpected limits %+v", tt.tier, l)
		}
	}
	if got := table.For("platinum"); got != table.For(model.PlanFree) {
		t.Errorf("unknown tier should fall back to free, got %+v", got)
	}
}

func TestNewTableRequiresEveryTier(t *testing.T) {
	if _, err := NewTable(map[model.PlanTier]Limits{model.PlanFree: {}}); err == nil {
		t.Fatal("expected error for missing tiers")
	}
}

func TestCanDownload(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		name  string
		tier  model.PlanTier
		count int64
		want  bool
	}{
		{"free below limit", model.PlanFree, 49, true},
		{"free at limit", model.PlanFree, 50, false},
		{"pro below limit", model.PlanPro, 499, true},
		{"pro at limit", model.PlanPro, 500, false},
		{"business never limited", model.PlanBusiness, 1 << 40, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := model.UsageRecord{PlanTier: tt.tier, DownloadsThisMonth: tt.count}
			if got := CanDownload(usage, table.For(tt.tier)); got != tt.want {
				t.Fatalf("CanDownload = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanAcceptFileSize(t *testing.T) {
	table := DefaultTable()
	if !CanAcceptFileSize(10*MB, table.For(model.PlanFree)) {
		t.Error("free tier should accept exactly 10MB")
	}
	if CanAcceptFileSize(10*MB+1, table.For(model.PlanFree)) {
		t.Error("free tier should reject files over 10MB")
	}
	if !CanAcceptFileSize(150*MB, table.For(model.PlanPro)) {
		t.Error("pro tier should accept 150MB")
	}
	if !CanAcceptFileSize(50*GB, table.For(model.PlanBusiness)) {
		t.Error("business tier should accept any size")
	}
}

func TestCanStore(t *testing.T) {
	table := DefaultTable()
	if CanStore(model.UsageRecord{}, 1, table.For(model.PlanFree)) {
		t.Error("free tier has no storage")
	}
	pro := model.UsageRecord{StorageUsedBytes: GB - 10}
	if !CanStore(pro, 10, table.For(model.PlanPro)) {
		t.Error("pro tier should fit up to exactly 1GB")
	}
	if CanStore(pro, 11, table.For(model.PlanPro)) {
		t.Error("pro tier should reject going over 1GB")
	}
	if !CanStore(model.UsageRecord{StorageUsedBytes: 100 * GB}, GB, table.For(model.PlanBusiness)) {
		t.Error("business tier storage is unlimited")
	}
}

func TestApplyResetIfDue(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)

	stale := model.UsageRecord{DownloadsThisMonth: 10, StorageUsedBytes: 500, LastResetAt: now.Add(-31 * 24 * time.Hour)}
	got, reset := ApplyResetIfDue(stale, now)
	if !reset {
		t.Fatal("expected reset after 31 days")
	}
	if got.DownloadsThisMonth != 0 || !got.LastResetAt.Equal(now) {
		t.Fatalf("unexpected record after reset: %+v", got)
	}
	if got.StorageUsedBytes != 500 {
		t.Fatalf("storage must not reset, got %d", got.StorageUsedBytes)
	}

	boundary := model.UsageRecord{DownloadsThisMonth: 3, LastResetAt: now.Add(-ResetWindow)}
	if _, reset := ApplyResetIfDue(boundary, now); !reset {
		t.Fatal("expected reset exactly at 30 days")
	}

	fresh := model.UsageRecord{DownloadsThisMonth: 7, LastResetAt: now.Add(-29 * 24 * time.Hour)}
	got, reset = ApplyResetIfDue(fresh, now)
	if reset || got.DownloadsThisMonth != 7 {
		t.Fatalf("expected no reset within window, got %+v reset=%v", got, reset)
	}
}

func TestResetAnchoredToLastReset(t *testing.T) {
	// Two accounts anchored on different days reset on different dates, not on the calendar month.
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	a := model.UsageRecord{DownloadsThisMonth: 1, LastResetAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := model.UsageRecord{DownloadsThisMonth: 1, LastResetAt: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)}
	if _, reset := ApplyResetIfDue(a, now); !reset {
		t.Error("account anchored on Jan 1 should reset by Feb 1")
	}
	if _, reset := ApplyResetIfDue(b, now); reset {
		t.Error("account anchored on Jan 15 should not reset on Feb 1")
	}
}

func TestDownloadDenial(t *testing.T) {
	table := DefaultTable()
	err := DownloadDenial(model.UsageRecord{PlanTier: model.PlanFree, DownloadsThisMonth: 50}, table.For(model.PlanFree))
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	var le *model.LimitExceededError
	if !errors.As(err, &le) || le.Limit != 50 || le.Resource != model.ResourceDownloads {
		t.Fatalf("unexpected denial detail: %+v", le)
	}
	if err := DownloadDenial(model.UsageRecord{PlanTier: model.PlanFree, DownloadsThisMonth: 49}, table.For(model.PlanFree)); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestStorageDenial(t *testing.T) {
	pro := DefaultTable().For(model.PlanPro)
	usage := model.UsageRecord{PlanTier: model.PlanPro, StorageUsedBytes: GB - 2048}
	if err := StorageDenial(usage, 2048, pro); err != nil {
		t.Fatalf("expected exact fit to pass, got %v", err)
	}
	err := StorageDenial(usage, 2049, pro)
	var le *model.LimitExceededError
	if !errors.As(err, &le) || le.Resource != model.ResourceStorage || le.Limit != GB {
		t.Fatalf("unexpected denial %v", err)
	}
}
