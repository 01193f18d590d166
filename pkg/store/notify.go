package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/sirupsen/logrus"
)

// subscriptionBuffer is the number of undelivered records a subscription can
// hold before new matches are dropped.
const subscriptionBuffer = 64

// ErrSubscriptionClosed is returned by Receive when the subscription has been
// removed while a receiver was waiting.
var ErrSubscriptionClosed = fmt.Errorf("subscription closed")

type subscription struct {
	id      int
	channel string
	filter  Filter
	ch      chan *record.Record
}

// notifier fans record events out to channel subscribers. Publication is
// non-blocking: a subscriber that falls behind loses the oldest pending
// events rather than stalling the writer.
type notifier struct {
	log    logrus.FieldLogger
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

func newNotifier(log logrus.FieldLogger) *notifier {
	return &notifier{
		log:  log.WithField("component", "notifier"),
		subs: make(map[int]*subscription),
	}
}

func (n *notifier) subscribe(channel string, filter Filter) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &subscription{
		id:      n.nextID,
		channel: channel,
		filter:  filter.Clone(),
		ch:      make(chan *record.Record, subscriptionBuffer),
	}
	n.subs[sub.id] = sub

	return sub.id
}

func (n *notifier) unsubscribe(id int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.subs[id]
	if !ok {
		return fmt.Errorf("unknown subscription id %d", id)
	}

	delete(n.subs, id)
	close(sub.ch)

	return nil
}

func (n *notifier) publish(channel string, rec *record.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		if sub.channel != channel || !sub.filter.Matches(rec) {
			continue
		}

		select {
		case sub.ch <- rec:
		default:
			n.log.WithFields(logrus.Fields{
				"subscription": sub.id,
				"record":       rec.ID,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// receive blocks until the next matching record, the context is cancelled, or
// the subscription is removed.
func (n *notifier) receive(ctx context.Context, id int) (*record.Record, error) {
	n.mu.Lock()
	sub, ok := n.subs[id]
	n.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown subscription id %d", id)
	}

	select {
	case rec, open := <-sub.ch:
		if !open {
			return nil, ErrSubscriptionClosed
		}

		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
