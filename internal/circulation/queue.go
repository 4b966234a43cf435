// internal/circulation/queue.go
package circulation

import "slices"

// ReservationQueue holds usernames waiting for a resource, oldest first.
// It does not prevent duplicates; that is the caller's policy.
type ReservationQueue struct {
	users []string
}

func (q *ReservationQueue) Enqueue(user string) {
	q.users = append(q.users, user)
}

// Dequeue drops the head. It reports false on an empty queue.
func (q *ReservationQueue) Dequeue() bool {
	if len(q.users) == 0 {
		return false
	}
	q.users[0] = ""
	q.users = q.users[1:]
	return true
}

func (q *ReservationQueue) Peek() (string, bool) {
	if len(q.users) == 0 {
		return "", false
	}
	return q.users[0], true
}

func (q *ReservationQueue) IsEmpty() bool {
	return len(q.users) == 0
}

func (q *ReservationQueue) Len() int {
	return len(q.users)
}

// Remove drops the first occurrence of user, keeping everyone else in order.
func (q *ReservationQueue) Remove(user string) bool {
	i := slices.Index(q.users, user)
	if i < 0 {
		return false
	}
	q.users = slices.Delete(q.users, i, i+1)
	return true
}

// Position is the 1-based place of user in the queue, or 0.
func (q *ReservationQueue) Position(user string) int {
	return slices.Index(q.users, user) + 1
}

// Users returns the queue in order without draining it.
func (q *ReservationQueue) Users() []string {
	return slices.Clone(q.users)
}

// InsertAt puts user back at the 1-based position pos, or at the tail when
// the queue has shrunk below it.
func (q *ReservationQueue) InsertAt(pos int, user string) {
	i := min(max(pos-1, 0), len(q.users))
	q.users = slices.Insert(q.users, i, user)
}
