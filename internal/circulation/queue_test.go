// internal/circulation/queue_test.go
package circulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestReservationQueue(t *testing.T) {
	var q ReservationQueue
	assert.True(t, q.IsEmpty())
	_, ok := q.Peek()
	assert.False(t, ok)
	assert.False(t, q.Dequeue())

	q.Enqueue("alice")
	q.Enqueue("bob")
	q.Enqueue("carl")

	head, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, "alice", head)
	assert.Equal(t, 2, q.Position("bob"))
	assert.Zero(t, q.Position("dora"))

	assert.True(t, q.Remove("bob"))
	assert.False(t, q.Remove("bob"))
	assert.Equal(t, []string{"alice", "carl"}, q.Users())

	users := q.Users()
	users[0] = "mallory"
	head, _ = q.Peek()
	assert.Equal(t, "alice", head, "Users must not alias the queue")

	q.InsertAt(2, "bob")
	assert.Equal(t, []string{"alice", "bob", "carl"}, q.Users())
	q.InsertAt(9, "dora")
	assert.Equal(t, 4, q.Position("dora"))

	assert.True(t, q.Dequeue())
	assert.Equal(t, 3, q.Len())
}

func TestReservationQueueFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		users := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,6}`)).Draw(t, "users")
		var q ReservationQueue
		for _, u := range users {
			q.Enqueue(u)
		}
		var got []string
		for !q.IsEmpty() {
			head, _ := q.Peek()
			got = append(got, head)
			q.Dequeue()
		}
		if len(got) != len(users) {
			t.Fatalf("dequeued %d of %d", len(got), len(users))
		}
		for i := range users {
			if got[i] != users[i] {
				t.Fatalf("position %d: got %q, want %q", i, got[i], users[i])
			}
		}
	})
}
