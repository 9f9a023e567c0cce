package ai

import (
	"context"
	"log"
	"sync"

	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
)

// FallbackReply is persisted and broadcast when the generative backend
// fails; a raw backend error is never surfaced to the group.
const FallbackReply = "Sorry, I can't reply right now. Please try again in a moment."

// Store is the message persistence surface the pipeline needs.
type Store interface {
	MessageStore
	Create(ctx context.Context, msg models.Message) (models.Message, error)
}

// Broadcaster fans a persisted message out to the group's live watchers.
type Broadcaster interface {
	BroadcastNewMessage(groupID int, msg models.Message)
}

// Processor runs the trigger -> assemble -> complete -> dispatch pipeline on
// worker goroutines, decoupled from the send path that enqueued the message.
// Errors are terminal here: they are logged and converted into the fallback
// reply, never propagated back to the sender.
//
// Two triggers for the same group may run concurrently and produce two
// independent replies; nothing serializes overlapping jobs.
type Processor struct {
	store     Store
	assembler *Assembler
	backend   Backend
	hub       Broadcaster

	jobs    chan models.Message
	workers int
	wg      sync.WaitGroup
}

// NewProcessor constructs the pipeline with the given worker count.
func NewProcessor(store Store, assembler *Assembler, backend Backend, hub Broadcaster, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		store:     store,
		assembler: assembler,
		backend:   backend,
		hub:       hub,
		jobs:      make(chan models.Message, 256),
		workers:   workers,
	}
}

// Start launches the worker goroutines. Jobs are drained until Stop is
// called or ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case msg, ok := <-p.jobs:
					if !ok {
						return
					}
					p.Process(ctx, msg)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Processor) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

// Enqueue schedules a persisted message for trigger evaluation. It never
// blocks the send path; when the queue is full the job is dropped.
func (p *Processor) Enqueue(msg models.Message) {
	select {
	case p.jobs <- msg:
	default:
		log.Printf("ai queue full, dropping message %d", msg.ID)
		observability.IncAIDropped()
	}
}

// Process evaluates one message and, when triggered, produces and delivers
// the assistant's reply.
func (p *Processor) Process(ctx context.Context, msg models.Message) {
	var replyTo *models.Message
	if msg.ReplyToID != nil {
		if target, err := p.store.FindByID(ctx, *msg.ReplyToID); err == nil {
			replyTo = &target
		} else {
			log.Printf("ai pipeline: reply target %d unavailable: %v", *msg.ReplyToID, err)
		}
	}

	if !ShouldTrigger(&msg, replyTo) {
		return
	}
	observability.IncAITrigger()

	reply := FallbackReply
	outcome := "fallback"
	transcript, err := p.assembler.BuildContext(ctx, msg.GroupID, msg)
	if err != nil {
		log.Printf("ai pipeline: build context for message %d: %v", msg.ID, err)
	} else if text, err := p.backend.Complete(ctx, transcript); err != nil {
		log.Printf("ai pipeline: backend failure for message %d: %v", msg.ID, err)
	} else {
		reply = text
		outcome = "ok"
	}

	p.deliver(ctx, msg, reply, outcome)
}

func (p *Processor) deliver(ctx context.Context, trigger models.Message, reply, outcome string) {
	triggerID := trigger.ID
	aiMsg := models.Message{
		GroupID:   trigger.GroupID,
		Content:   reply,
		Kind:      models.MessageKindAI,
		ReplyToID: &triggerID,
	}

	saved, err := p.store.Create(ctx, aiMsg)
	if err != nil {
		// The triggering send already committed; swallow the failure.
		log.Printf("ai pipeline: persist reply to message %d: %v", trigger.ID, err)
		observability.IncAIResponse("persist_error")
		return
	}

	p.hub.BroadcastNewMessage(saved.GroupID, saved)
	observability.IncAIResponse(outcome)
}
