/*
Package events provides the in-memory broker that carries deploy progress and
instance lifecycle notifications to observers.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                   │
	│       ↓                                                    │
	│  Broadcast Loop                                            │
	│       ↓  remembers the latest event per topic              │
	│       ↓  picks recipients, releases the broker lock        │
	│  Parallel delivery, one goroutine per recipient            │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 64 each)                     │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

Topics are canonical instance names. A subscription to "" receives every
topic. A new subscriber is primed with the latest event of its topic (of
every topic for ""), so a client that connects mid-deploy immediately sees
the current percentage.

# Event types

	deploy.progress    percentage and message for a running deploy
	deploy.succeeded   terminal, progress 100
	deploy.failed      terminal, carries the last reached percentage
	instance.status    a lifecycle status change
	instance.deleted   terminal, the instance was deleted

# Ordering and slow observers

Events of one topic reach each subscriber in publish order: the broadcast
loop finishes one event, deliveries included, before taking the next.

Delivery runs outside the broker lock, one goroutine per recipient, so a full
subscriber never blocks Subscribe, Unsubscribe or SubscriberCount, and
several stalled subscribers cost one delivery timeout together rather than
one each. A subscriber whose buffer stays full for the delivery timeout (5s
by default) is dropped and its channel closed; the WebSocket handler then
closes the connection so the client reconnects and gets a fresh snapshot.

Each Subscription guards its channel with its own mutex and a done channel.
Unsubscribing while a delivery is waiting closes done first, which releases
the waiting sender before the channel itself is closed, so a send on a
closed channel cannot happen.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe("mc-survival-mabar")
	defer broker.Unsubscribe(sub)

	for ev := range sub.C {
		fmt.Println(ev.Progress, ev.Message)
		if ev.Terminal {
			break
		}
	}
*/
package events
