package webhook

import "github.com/davidmoltin/site-integrations/internal/models"

type queuedEvent struct {
	event    *models.WebhookEvent
	priority models.EventPriority
}

// eventQueue keeps events in bands: critical, then high, then medium and low
// interleaved in arrival order. It is not safe for concurrent use.
type eventQueue struct {
	items []queuedEvent
}

// push inserts an event according to its priority. New critical events go to
// the very front. Retried critical events go to the back of the critical band.
// High events go to the back of the high band, after every queued critical.
// Medium and low events are appended.
func (q *eventQueue) push(ev *models.WebhookEvent, priority models.EventPriority, retry bool) {
	item := queuedEvent{event: ev, priority: priority}

	switch priority {
	case models.PriorityCritical:
		if retry {
			q.insertAt(q.bandEnd(models.PriorityCritical), item)
			return
		}
		q.insertAt(0, item)
	case models.PriorityHigh:
		q.insertAt(q.bandEnd(models.PriorityHigh), item)
	default:
		q.items = append(q.items, item)
	}
}

// bandEnd returns the index just past the last queued event of priority p
// or any more urgent priority.
func (q *eventQueue) bandEnd(p models.EventPriority) int {
	rank := p.Rank()
	i := 0
	for i < len(q.items) && q.items[i].priority.Rank() >= rank {
		i++
	}
	return i
}

func (q *eventQueue) insertAt(i int, item queuedEvent) {
	q.items = append(q.items, queuedEvent{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
}

func (q *eventQueue) pop() (queuedEvent, bool) {
	if len(q.items) == 0 {
		return queuedEvent{}, false
	}
	item := q.items[0]
	q.items[0] = queuedEvent{}
	q.items = q.items[1:]
	return item, true
}

func (q *eventQueue) len() int {
	return len(q.items)
}

func (q *eventQueue) countByPriority() map[string]int {
	out := make(map[string]int, 4)
	for _, it := range q.items {
		out[string(it.priority)]++
	}
	return out
}

func (q *eventQueue) snapshot() []models.WebhookEvent {
	out := make([]models.WebhookEvent, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it.event)
	}
	return out
}
