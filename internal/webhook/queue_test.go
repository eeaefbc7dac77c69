package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidmoltin/site-integrations/internal/models"
)

func ids(q *eventQueue) []string {
	out := make([]string, 0, q.len())
	for _, it := range q.items {
		out = append(out, it.event.ID)
	}
	return out
}

func ev(id string) *models.WebhookEvent {
	return &models.WebhookEvent{ID: id, Source: models.PlatformWhatsApp, Type: "t"}
}

func TestEventQueue_Push(t *testing.T) {
	tests := []struct {
		name   string
		pushes []struct {
			id       string
			priority models.EventPriority
			retry    bool
		}
		want []string
	}{
		{
			name: "critical jumps ahead of medium",
			pushes: []struct {
				id       string
				priority models.EventPriority
				retry    bool
			}{
				{"m1", models.PriorityMedium, false},
				{"c1", models.PriorityCritical, false},
			},
			want: []string{"c1", "m1"},
		},
		{
			name: "new critical goes to the very front",
			pushes: []struct {
				id       string
				priority models.EventPriority
				retry    bool
			}{
				{"c1", models.PriorityCritical, false},
				{"c2", models.PriorityCritical, false},
			},
			want: []string{"c2", "c1"},
		},
		{
			name: "high after criticals and earlier highs, before medium and low",
			pushes: []struct {
				id       string
				priority models.EventPriority
				retry    bool
			}{
				{"l1", models.PriorityLow, false},
				{"m1", models.PriorityMedium, false},
				{"c1", models.PriorityCritical, false},
				{"h1", models.PriorityHigh, false},
				{"h2", models.PriorityHigh, false},
			},
			want: []string{"c1", "h1", "h2", "l1", "m1"},
		},
		{
			name: "medium and low stay in arrival order",
			pushes: []struct {
				id       string
				priority models.EventPriority
				retry    bool
			}{
				{"m1", models.PriorityMedium, false},
				{"l1", models.PriorityLow, false},
				{"m2", models.PriorityMedium, false},
			},
			want: []string{"m1", "l1", "m2"},
		},
		{
			name: "retried critical goes to the back of the critical band",
			pushes: []struct {
				id       string
				priority models.EventPriority
				retry    bool
			}{
				{"h1", models.PriorityHigh, false},
				{"c1", models.PriorityCritical, false},
				{"c2", models.PriorityCritical, false},
				{"c0", models.PriorityCritical, true},
			},
			want: []string{"c2", "c1", "c0", "h1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q eventQueue
			for _, p := range tt.pushes {
				q.push(ev(p.id), p.priority, p.retry)
			}
			assert.Equal(t, tt.want, ids(&q))
		})
	}
}

func TestEventQueue_Pop(t *testing.T) {
	var q eventQueue
	_, ok := q.pop()
	assert.False(t, ok)

	q.push(ev("m1"), models.PriorityMedium, false)
	q.push(ev("c1"), models.PriorityCritical, false)
	q.push(ev("h1"), models.PriorityHigh, false)

	assert.Equal(t, map[string]int{"critical": 1, "high": 1, "medium": 1}, q.countByPriority())

	var got []string
	for {
		item, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, item.event.ID)
	}
	assert.Equal(t, []string{"c1", "h1", "m1"}, got)
	assert.Equal(t, 0, q.len())
}
