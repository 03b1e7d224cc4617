package lifecycle

import (
	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

// Event is a request to move an order along the stage graph.
type Event string

const (
	EventSubmit  Event = "submit"
	EventRoute   Event = "route"
	EventConfirm Event = "confirm"
	EventReject  Event = "reject"
	EventCancel  Event = "cancel"
)

type edge struct {
	from  entity.OrderStage
	event Event
}

// transitions is the whole stage graph. Nothing targets draft and terminal
// stages have no outgoing edges.
var transitions = map[edge]entity.OrderStage{
	{entity.StageDraft, EventSubmit}:              entity.StageSubmitted,
	{entity.StageSubmitted, EventRoute}:           entity.StageDistributorReview,
	{entity.StagePending, EventRoute}:             entity.StageDistributorReview,
	{entity.StageDistributorReview, EventConfirm}: entity.StageConfirmed,
	{entity.StageDistributorReview, EventReject}:  entity.StageRejected,
	{entity.StageSubmitted, EventCancel}:          entity.StageCancelled,
	{entity.StagePending, EventCancel}:            entity.StageCancelled,
	{entity.StageDistributorReview, EventCancel}:  entity.StageCancelled,
}

// Next returns the stage reached from stage by event, or a state error
// carrying the current stage when the graph has no such edge.
func Next(stage entity.OrderStage, event Event) (entity.OrderStage, error) {
	to, ok := transitions[edge{stage, event}]
	if !ok {
		return stage, errs.State(string(event), stage.String())
	}
	return to, nil
}

// Allowed reports whether event may be applied in stage.
func Allowed(stage entity.OrderStage, event Event) bool {
	_, ok := transitions[edge{stage, event}]
	return ok
}

// Stages lists every stage, in graph order.
func Stages() []entity.OrderStage {
	return []entity.OrderStage{
		entity.StageDraft,
		entity.StageSubmitted,
		entity.StagePending,
		entity.StageDistributorReview,
		entity.StageConfirmed,
		entity.StageRejected,
		entity.StageCancelled,
	}
}

// Events lists every event.
func Events() []Event {
	return []Event{EventSubmit, EventRoute, EventConfirm, EventReject, EventCancel}
}
