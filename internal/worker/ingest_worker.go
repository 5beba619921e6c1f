package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"omnirag/internal/app"
	"omnirag/internal/platform/rabbitmq"
	"omnirag/internal/repository"
)

// IngestWorker consumes queued document ingest jobs, runs the ingestion
// pipeline and records the outcome on the document row. The upload endpoint
// stays fast because all extraction and embedding happens here.
type IngestWorker struct {
	conn      *amqp.Connection
	ingest    *app.IngestService
	documents *repository.DocumentRepository
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingest *app.IngestService, documents *repository.DocumentRepository, queueName string) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		ingest:    ingest,
		documents: documents,
		queueName: queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var job rabbitmq.IngestJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					log.Printf("worker decode ingest job failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.process(workerCtx, job); err != nil {
					log.Printf("worker ingest document %d failed: %v", job.DocumentID, err)
					_ = d.Nack(false, false)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// process runs one job. The document row always ends up in a terminal
// status; the spooled file is removed on every outcome.
func (w *IngestWorker) process(ctx context.Context, job rabbitmq.IngestJob) error {
	defer func() {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("remove spooled upload %s failed: %v", job.FilePath, err)
		}
	}()

	if err := w.documents.MarkProcessing(job.DocumentID); err != nil {
		return fmt.Errorf("mark processing failed: %w", err)
	}

	file, err := os.Open(job.FilePath)
	if err != nil {
		w.markFailed(job.DocumentID, fmt.Sprintf("open upload failed: %v", err))
		return fmt.Errorf("open spooled upload failed: %w", err)
	}
	defer file.Close()

	result, err := w.ingest.Ingest(ctx, app.IngestInput{
		BotID:            job.BotID,
		Filename:         job.Filename,
		Reader:           file,
		ChunkingStrategy: job.ChunkingStrategy,
		ChunkSize:        job.ChunkSize,
		ChunkOverlap:     job.ChunkOverlap,
	})
	if err != nil {
		w.markFailed(job.DocumentID, err.Error())
		return fmt.Errorf("ingest failed: %w", err)
	}

	if err := w.documents.MarkCompleted(
		job.DocumentID,
		result.ChunksCreated,
		result.VectorsInserted,
		result.EmbeddingDim,
		result.ProcessingTime,
		result.Preview,
	); err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

func (w *IngestWorker) markFailed(documentID uint, reason string) {
	if err := w.documents.MarkFailed(documentID, reason); err != nil {
		log.Printf("mark document %d failed status error: %v", documentID, err)
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
