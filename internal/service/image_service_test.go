package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/PRX2112/image-opration-tools-sub001/internal/entitlement"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/processor"

	"github.com/rs/zerolog"
)

func newTestImageService(tier model.PlanTier, downloads int64, proc *fakeProcessor, store *fakeStore) (ImageService, *fakeUsageRepo) {
	usage := newFakeUsageRepo()
	usage.put(model.UsageRecord{AccountID: "acc-1", PlanTier: tier, DownloadsThisMonth: downloads, LastResetAt: testNow})
	ledger := newTestLedger(usage, nil)
	if store == nil {
		return NewImageService(ledger, proc, nil, zerolog.Nop()), usage
	}
	return NewImageService(ledger, proc, store, zerolog.Nop()), usage
}

func pngResult(size int) *processor.Result {
	return &processor.Result{Data: make([]byte, size), Format: "png", ContentType: "image/png", Width: 10, Height: 10}
}

func TestProcessRecordsDownload(t *testing.T) {
	proc := &fakeProcessor{out: pngResult(300)}
	svc, usage := newTestImageService(model.PlanFree, 0, proc, nil)

	res, err := svc.Process(context.Background(), ProcessRequest{
		AccountID: "acc-1",
		FileName:  "holiday.jpg",
		Input:     []byte("raw"),
		Operation: processor.Operation{Kind: processor.OpResize, Width: 10},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.FileName != "holiday-resize.png" {
		t.Errorf("FileName = %q", res.FileName)
	}
	if res.Usage.DownloadsThisMonth != 1 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if got := usage.get("acc-1"); got.StorageUsedBytes != 300 {
		t.Errorf("storage = %d, want 300", got.StorageUsedBytes)
	}
}

func TestProcessDeniedBeforeProcessing(t *testing.T) {
	tests := []struct {
		name      string
		tier      model.PlanTier
		downloads int64
		inputSize int64
		resource  string
	}{
		{"download quota", model.PlanFree, 50, 10, model.ResourceDownloads},
		{"file too large", model.PlanFree, 0, 10*entitlement.MB + 1, model.ResourceFileSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{out: pngResult(1)}
			svc, _ := newTestImageService(tt.tier, tt.downloads, proc, nil)
			_, err := svc.Process(context.Background(), ProcessRequest{AccountID: "acc-1", Input: make([]byte, tt.inputSize), Operation: processor.Operation{Kind: processor.OpFlip}})
			var limitErr *model.LimitExceededError
			if !errors.As(err, &limitErr) || limitErr.Resource != tt.resource {
				t.Fatalf("expected %s denial, got %v", tt.resource, err)
			}
			if proc.calls != 0 {
				t.Fatal("processor ran despite denial")
			}
		})
	}
}

func TestProcessMapsProcessorErrors(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("%w: bad header", processor.ErrDecode), model.ErrInvalidInput},
		{fmt.Errorf("%w: op", processor.ErrUnsupported), model.ErrInvalidInput},
		{errors.New("encoder crashed"), model.ErrUpstreamFailure},
	}
	for _, tt := range tests {
		svc, usage := newTestImageService(model.PlanFree, 0, &fakeProcessor{err: tt.err}, nil)
		_, err := svc.Process(context.Background(), ProcessRequest{AccountID: "acc-1", Input: []byte("x"), Operation: processor.Operation{Kind: processor.OpResize}})
		if !errors.Is(err, tt.want) {
			t.Errorf("%v: got %v, want %v", tt.err, err, tt.want)
		}
		if got := usage.get("acc-1"); got.DownloadsThisMonth != 0 {
			t.Errorf("failed processing was counted: %+v", got)
		}
	}
}

func TestProcessSaveForPaidTier(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestImageService(model.PlanPro, 0, &fakeProcessor{out: pngResult(1024)}, store)

	res, err := svc.Process(context.Background(), ProcessRequest{AccountID: "acc-1", FileName: "a.png", Input: []byte("x"), Operation: processor.Operation{Kind: processor.OpCompress}, Save: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.HasPrefix(res.ObjectKey, "accounts/acc-1/") || !strings.HasSuffix(res.ObjectKey, ".png") {
		t.Errorf("ObjectKey = %q", res.ObjectKey)
	}
	if len(store.objects[res.ObjectKey]) != 1024 {
		t.Errorf("object not stored")
	}
	if res.URL == "" {
		t.Errorf("missing presigned URL")
	}
}

func TestProcessSaveDeniedForFreeTier(t *testing.T) {
	store := &fakeStore{}
	svc, usage := newTestImageService(model.PlanFree, 0, &fakeProcessor{out: pngResult(10)}, store)

	_, err := svc.Process(context.Background(), ProcessRequest{AccountID: "acc-1", Input: []byte("x"), Operation: processor.Operation{Kind: processor.OpCompress}, Save: true})
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Fatalf("expected storage denial, got %v", err)
	}
	if len(store.objects) != 0 || usage.get("acc-1").DownloadsThisMonth != 0 {
		t.Fatal("denied save had side effects")
	}
}

func TestProcessSaveLosingRaceIsNotKept(t *testing.T) {
	tests := []struct {
		name       string
		start      model.UsageRecord
		concurrent DownloadInput
		resource   string
	}{
		{
			name:       "storage filled meanwhile",
			start:      model.UsageRecord{StorageUsedBytes: entitlement.GB - 2048},
			concurrent: DownloadInput{FileSizeBytes: 1500, Saved: true},
			resource:   model.ResourceStorage,
		},
		{
			name:       "last download used meanwhile",
			start:      model.UsageRecord{DownloadsThisMonth: 499},
			concurrent: DownloadInput{FileSizeBytes: 1},
			resource:   model.ResourceDownloads,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := newFakeUsageRepo()
			start := tt.start
			start.AccountID, start.PlanTier, start.LastResetAt = "acc-1", model.PlanPro, testNow
			usage.put(start)
			ledger := newTestLedger(usage, nil)
			store := &fakeStore{}
			store.afterPut = func() {
				if _, err := ledger.RecordDownload(context.Background(), "acc-1", tt.concurrent); err != nil {
					t.Errorf("concurrent download: %v", err)
				}
			}
			svc := NewImageService(ledger, &fakeProcessor{out: pngResult(1024)}, store, zerolog.Nop())

			_, err := svc.Process(context.Background(), ProcessRequest{AccountID: "acc-1", Input: []byte("x"), Operation: processor.Operation{Kind: processor.OpCompress}, Save: true})
			var limitErr *model.LimitExceededError
			if !errors.As(err, &limitErr) || limitErr.Resource != tt.resource {
				t.Fatalf("expected %s denial, got %v", tt.resource, err)
			}
			if len(store.objects) != 0 {
				t.Fatalf("uncounted object left in store: %v", store.objects)
			}
			limit := entitlement.DefaultTable().For(model.PlanPro).StorageBytes
			if got := usage.get("acc-1"); got.StorageUsedBytes > limit {
				t.Fatalf("storage %d exceeds cap %d", got.StorageUsedBytes, limit)
			}
		})
	}
}

func TestProcessSaveWithoutStore(t *testing.T) {
	svc, _ := newTestImageService(model.PlanPro, 0, &fakeProcessor{out: pngResult(10)}, nil)
	_, err := svc.Process(context.Background(), ProcessRequest{AccountID: "acc-1", Input: []byte("x"), Save: true})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"photo.jpeg":        "photo-rotate.png",
		`C:\Users\me\x.gif`: "x-rotate.png",
		"":                  "image-rotate.png",
		"../../etc/passwd":  "passwd-rotate.png",
	}
	for in, want := range tests {
		if got := outputName(in, "rotate", "png"); got != want {
			t.Errorf("outputName(%q) = %q, want %q", in, got, want)
		}
	}
}
