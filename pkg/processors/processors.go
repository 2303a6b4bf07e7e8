// Package processors implements the job handlers behind the queue: fetch a
// meeting transcript from Graph, generate the summary, distribute it to
// chat and email, and execute operator commands. Processors do the work for
// one claimed job; claiming, heartbeats, retry scheduling, and terminal
// status updates belong to the worker.
package processors

import (
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
)

// RegisterAll wires every processor into the registry under its job type.
func RegisterAll(r *queue.Registry, fetch *FetchTranscript, gen *GenerateSummary, dist *Distribute, cmd *ChatCommand) {
	r.Register(models.JobTypeFetchTranscript, fetch)
	r.Register(models.JobTypeGenerateSummary, gen)
	r.Register(models.JobTypeDistribute, dist)
	r.Register(models.JobTypeProcessChatCommand, cmd)
}
