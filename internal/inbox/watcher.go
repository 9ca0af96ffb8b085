// Package inbox watches an S3 drop bucket where suppliers deposit
// invoice spreadsheets. Discovered files are registered in the import
// log and run through a preview pass so operators see normalized rows
// and errors before deciding to apply. The watcher never applies.
package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bloomstock/backoffice/internal/importlog"
	"github.com/bloomstock/backoffice/internal/invoice"
)

const maxRetries = 3

// Config holds watcher settings.
type Config struct {
	Bucket     string
	Region     string
	AWSProfile string
	Interval   time.Duration
}

// Watcher polls the bucket and previews new supplier files.
type Watcher struct {
	s3Client  *s3.Client
	store     *importlog.Store
	importer  *invoice.Service
	bucket    string
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	lastRunAt time.Time
	healthy   bool
	running   int32
}

// NewWatcher creates a watcher over the configured bucket.
func NewWatcher(store *importlog.Store, importer *invoice.Service, cfg Config) (*Watcher, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error
	if cfg.AWSProfile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithSharedConfigProfile(cfg.AWSProfile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Watcher{
		s3Client: s3.NewFromConfig(awsCfg),
		store:    store,
		importer: importer,
		bucket:   cfg.Bucket,
		interval: interval,
		healthy:  true,
	}, nil
}

// Start launches the polling loop.
func (w *Watcher) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	go func() {
		if err := w.store.ResumeStuckInbox(w.ctx, maxRetries); err != nil {
			log.Printf("[inbox] resume stuck: %v", err)
		}
		w.runOnce()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.runOnce()
			}
		}
	}()
}

// Stop cancels the polling loop.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) IsHealthy() bool      { return w.healthy }
func (w *Watcher) LastRunAt() time.Time { return w.lastRunAt }
func (w *Watcher) IsRunning() bool      { return atomic.LoadInt32(&w.running) == 1 }

// ManualTrigger runs a single discovery/preview cycle immediately.
func (w *Watcher) ManualTrigger() {
	go w.runOnce()
}

// runOnce executes one cycle: discover new files, then preview a batch
// from the queue.
func (w *Watcher) runOnce() {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&w.running, 0)

	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	w.lastRunAt = time.Now()
	w.healthy = true

	w.discoverFiles(ctx)
	w.processQueue(ctx)
}

// discoverFiles scans the bucket and registers every new spreadsheet as
// a pending inbox entry. Already-known keys are skipped by the store.
func (w *Watcher) discoverFiles(ctx context.Context) {
	paginator := s3.NewListObjectsV2Paginator(w.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(w.bucket),
	})

	registered := 0
	for paginator.HasMorePages() {
		if ctx.Err() != nil {
			return
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.Printf("[inbox] list bucket: %v", err)
			w.healthy = false
			return
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if obj.Size == nil || !eligibleKey(key, *obj.Size) {
				continue
			}

			isNew, err := w.store.RegisterInboxFile(ctx, key, *obj.Size)
			if err != nil {
				log.Printf("[inbox] register %s: %v", key, err)
				continue
			}
			if isNew {
				registered++
			}
		}
	}

	if registered > 0 {
		log.Printf("[inbox] discovered %d new supplier files", registered)
	}
}

// eligibleKey reports whether a bucket object is a supplier spreadsheet
// the watcher should register. Archived objects and non-spreadsheet
// files are skipped.
func eligibleKey(key string, size int64) bool {
	if size == 0 {
		return false
	}
	if strings.HasPrefix(key, "processed/") {
		return false
	}
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".csv")
}

// processQueue previews pending files, smallest first, with a
// concurrency cap of 4.
func (w *Watcher) processQueue(ctx context.Context) {
	keys, err := w.store.PendingInboxFiles(ctx, 10)
	if err != nil {
		log.Printf("[inbox] query queue: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	log.Printf("[inbox] processing batch of %d files", len(keys))

	sem := make(chan struct{}, 4)
	var wg sync.WaitGroup
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(k string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.processFile(ctx, k); err != nil {
				log.Printf("[inbox] process %s: %v", k, err)
			}
		}(key)
	}
	wg.Wait()
}

// processFile claims a pending file, downloads it and runs a preview
// pass. The file is moved to processed/ afterwards so the bucket stays
// tidy.
func (w *Watcher) processFile(ctx context.Context, key string) error {
	claimed, err := w.store.ClaimInboxFile(ctx, key)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	out, err := w.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		w.store.FailInboxFile(ctx, key, fmt.Sprintf("get object: %v", err))
		return fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		w.store.FailInboxFile(ctx, key, fmt.Sprintf("read object: %v", err))
		return fmt.Errorf("read object: %w", err)
	}

	res, err := w.importer.Preview(ctx, key, bytes.NewReader(data), invoice.Options{
		DryRun:   true,
		CostMode: invoice.CostModeSimple,
	})
	if err != nil {
		w.store.FailInboxFile(ctx, key, err.Error())
		return err
	}

	if err := w.store.CompleteInboxFile(ctx, key, len(res.Rows), len(res.Errors)); err != nil {
		return err
	}

	w.archive(ctx, key)

	log.Printf("[inbox] previewed %s: %d rows, %d errors", key, len(res.Rows), len(res.Errors))
	return nil
}

// archive moves a processed object under processed/. Failures here are
// non-fatal; the registry already marks the file as handled.
func (w *Watcher) archive(ctx context.Context, key string) {
	dest := "processed/" + key
	_, err := w.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(w.bucket),
		CopySource: aws.String(w.bucket + "/" + key),
		Key:        aws.String(dest),
	})
	if err != nil {
		log.Printf("[inbox] copy %s to %s: %v", key, dest, err)
		return
	}
	if _, err := w.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	}); err != nil {
		log.Printf("[inbox] delete original %s: %v", key, err)
	}
}
