package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
)

// Outcome classifies what Transition decided to do with an event
type Outcome string

const (
	// OutcomeApplied means the event moved the workflow and must be persisted
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the event is a duplicate, stale or not valid for the current state
	OutcomeIgnored Outcome = "ignored"
	// OutcomeOrphaned means no workflow exists and the event cannot start one
	OutcomeOrphaned Outcome = "orphaned"
	// OutcomeRejected means the event is malformed
	OutcomeRejected Outcome = "rejected"
)

// Decision is the result of applying one event to a workflow
type Decision struct {
	Outcome Outcome
	// From is empty when the event created the workflow
	From StateName
	// Next is set only when Outcome is OutcomeApplied
	Next    *WorkflowInstance
	Emitted []*events.Event
	Reason  string
}

// Created reports whether the decision starts a new workflow
func (d Decision) Created() bool {
	return d.Outcome == OutcomeApplied && d.From == ""
}

// Transition computes the next workflow value for evt. current is nil when
// no workflow exists for the event's correlation key. Transition has no side
// effects and returns the same decision for the same inputs, including the
// IDs of emitted messages.
func Transition(current *WorkflowInstance, evt events.Correlated, now time.Time) Decision {
	if evt == nil {
		return Decision{Outcome: OutcomeRejected, Reason: "event is nil"}
	}

	key := evt.CorrelationKey()
	if key.IsZero() {
		return Decision{Outcome: OutcomeRejected, Reason: fmt.Sprintf("%s carries no estimate id", evt.EventTopic())}
	}

	received, initiating := evt.(events.EstimateReceivedEvent)

	if current == nil {
		if !initiating {
			return Decision{
				Outcome: OutcomeOrphaned,
				Reason:  fmt.Sprintf("no workflow for estimate %s, %s dropped", key, evt.EventTopic()),
			}
		}
		if received.TenantID == "" {
			return Decision{Outcome: OutcomeRejected, Reason: "estimate received without tenant id"}
		}

		next := newWorkflow(received, now)
		return Decision{
			Outcome: OutcomeApplied,
			Next:    &next,
			Emitted: materialize(next, []outbound{{topic: events.ResolveCustomerTopic, data: resolveCustomer(next)}}),
		}
	}

	from := current.StateName()

	if current.CorrelationID != key {
		return Decision{
			Outcome: OutcomeRejected,
			From:    from,
			Reason:  fmt.Sprintf("event for estimate %s routed to workflow %s", key, current.CorrelationID),
		}
	}

	if initiating {
		return Decision{Outcome: OutcomeIgnored, From: from, Reason: "workflow already started"}
	}

	if current.IsTerminal() {
		return Decision{
			Outcome: OutcomeIgnored,
			From:    from,
			Reason:  fmt.Sprintf("workflow is %s, %s ignored", from, evt.EventTopic()),
		}
	}

	st, ok := current.State.on(*current, evt, now)
	if !ok {
		return Decision{
			Outcome: OutcomeIgnored,
			From:    from,
			Reason:  fmt.Sprintf("%s is not handled in state %s", evt.EventTopic(), from),
		}
	}

	next := st.next
	next.Version = current.Version.Update()
	next.UpdatedAt = now.UTC()

	return Decision{
		Outcome: OutcomeApplied,
		From:    from,
		Next:    &next,
		Emitted: materialize(next, st.emit),
	}
}

// materialize wraps outbound payloads into envelopes whose IDs are derived
// from the workflow, topic and resulting version.
func materialize(wf WorkflowInstance, out []outbound) []*events.Event {
	if len(out) == 0 {
		return nil
	}

	emitted := make([]*events.Event, 0, len(out))
	for _, o := range out {
		evt := events.NewEvent(wf.CorrelationID, o.topic, o.data).
			WithID(deriveMessageID(wf, o.topic)).
			WithTimestamp(wf.UpdatedAt).
			WithCorrelationID(wf.CorrelationID).
			WithMetadata("tenant_id", wf.TenantID)
		emitted = append(emitted, evt)
	}

	return emitted
}

func deriveMessageID(wf WorkflowInstance, topic events.Topic) models.ID {
	return models.DeriveID(wf.CorrelationID.String(), topic.String(), strconv.Itoa(wf.Version.Value))
}
