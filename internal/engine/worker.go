package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// backfillBatchSize bounds each startup scan for rows whose embeddings
// never reached the index.
const backfillBatchSize = 100

// enrichmentJob is one unit of detached post-insert work: embed the
// content, land it in the vector index, and link extracted entities.
type enrichmentJob struct {
	memoryID string
	userID   string
	content  string

	// embedding carries a vector the resolver already computed during the
	// dedup check, so the worker does not embed the same text twice. Nil
	// when the resolver skipped or failed embedding.
	embedding []float32

	// attempt counts prior failures of this job.
	attempt int
}

func (s *Service) startWorkerPool(ctx context.Context) {
	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go s.enrichmentWorker(ctx, i)
	}
}

// stopWorkerPool closes the queue and waits for the workers to drain it,
// bounded by the shutdown timeout.
func (s *Service) stopWorkerPool(ctx context.Context) error {
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("enrichment queue did not drain within %v", timeout)
	}
}

func (s *Service) enrichmentWorker(ctx context.Context, workerID int) {
	defer s.workerWG.Done()

	log := s.log.WithField("worker", workerID)
	log.Debug("enrichment worker started")

	for job := range s.queue {
		s.processEnrichmentJob(ctx, job)
	}

	log.Debug("enrichment worker stopped")
}

// enqueueEnrichment hands a job to the worker pool, or runs it inline in
// SyncEnrichment mode. A full queue drops the job with a log line; the
// backfill scan picks the row up again later.
func (s *Service) enqueueEnrichment(ctx context.Context, job *enrichmentJob) {
	if s.cfg.SyncEnrichment {
		s.processEnrichmentJob(ctx, job)
		return
	}

	select {
	case <-s.workerCtx.Done():
		return
	default:
	}

	select {
	case s.queue <- job:
	default:
		s.log.WithFields(map[string]interface{}{
			"memory_id": job.memoryID,
			"user_id":   job.userID,
		}).Warn("enrichment queue full, dropping job (backfill will recover it)")
	}
}

// requeueEnrichment retries a failed job until MaxRetries is exhausted.
// During shutdown the job is abandoned instead; the backfill scan picks
// its row up on the next start.
func (s *Service) requeueEnrichment(job *enrichmentJob) bool {
	select {
	case <-s.workerCtx.Done():
		return false
	default:
	}
	if job.attempt >= s.cfg.MaxRetries {
		s.log.WithFields(map[string]interface{}{
			"memory_id": job.memoryID,
			"attempts":  job.attempt,
		}).Error("enrichment abandoned after max retries")
		return false
	}

	job.attempt++
	select {
	case s.queue <- job:
		return true
	default:
		return false
	}
}

// processEnrichmentJob embeds the memory, indexes it, and links its
// entities. The embedding is what makes the memory semantically
// recallable, so an embedding failure requeues the job; entity extraction
// is best-effort on top.
func (s *Service) processEnrichmentJob(ctx context.Context, job *enrichmentJob) {
	log := s.log.WithFields(map[string]interface{}{
		"memory_id": job.memoryID,
		"user_id":   job.userID,
	})

	// Quadratic backoff between retries eases pressure on a struggling
	// provider: 100ms, 400ms, 900ms...
	if job.attempt > 0 {
		backoff := time.Duration(job.attempt*job.attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}

	embedding := job.embedding
	if embedding == nil {
		var err error
		embedding, err = s.embedder.EmbedOne(ctx, job.content)
		if err != nil {
			log.WithError(err).WithField("attempt", job.attempt).Warn("embedding failed")
			s.requeueEnrichment(job)
			return
		}
	}

	if err := s.index.Add(ctx, job.userID, job.memoryID, embedding); err != nil {
		log.WithError(err).WithField("attempt", job.attempt).Warn("vector index add failed")
		job.embedding = embedding
		s.requeueEnrichment(job)
		return
	}

	// Store writes survive caller cancellation so a memory that made it
	// into the index is always marked as such.
	if err := s.store.MarkIndexed(context.WithoutCancel(ctx), job.memoryID); err != nil {
		log.WithError(err).Warn("failed to mark memory indexed")
	}

	mentions, err := s.extractEntities(ctx, job.content)
	if err != nil {
		log.WithError(err).Warn("entity extraction failed, memory stored without links")
		return
	}
	if len(mentions) == 0 {
		return
	}

	if err := s.linkEntitiesToMemory(ctx, job.userID, job.memoryID, mentions); err != nil {
		log.WithError(err).Warn("entity linking incomplete")
	}
}

// backfillUnindexed re-enqueues rows whose embeddings never landed, after
// a crash or a provider outage in a previous run.
func (s *Service) backfillUnindexed(ctx context.Context) {
	memories, err := s.store.ListUnindexed(ctx, backfillBatchSize)
	if err != nil {
		s.log.WithError(err).Warn("unindexed backfill scan failed")
		return
	}
	if len(memories) == 0 {
		return
	}

	s.log.WithField("count", len(memories)).Info("re-enqueueing unindexed memories")
	for i := range memories {
		m := &memories[i]
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.enqueueEnrichment(ctx, &enrichmentJob{
			memoryID: m.ID,
			userID:   m.UserID,
			content:  m.Content,
		})
	}
}
