package channel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gamedayhq/gameday/internal/types"
)

const idleChannelTimeout = time.Second * 30

type exitReq struct {
	deleted bool
	done    chan bool
}

// subscription pairs a Subscriber with its feed. Deliveries are handed to a
// dedicated pump goroutine so a slow callback never stalls the channel loop.
type subscription struct {
	sub  Subscriber
	feed chan []types.Message
}

type Channel struct {
	cs        *ChannelServer
	id        int
	eventId   string
	deliver   chan struct{}
	subLock   sync.Mutex
	nextSubId int
	subs      map[int]*subscription
	// killTimer unloads the channel once the last subscriber detaches
	killTimer *time.Timer
	// exitChan signals the channel to exit
	exitChan chan exitReq
}

func newChannel(cs *ChannelServer, id int, eventId string) *Channel {
	// the timer starts stopped and is armed only when the last subscriber
	// detaches; creating it here keeps subscriber bookkeeping free of a
	// race against the channel goroutine starting up
	killTimer := time.NewTimer(idleChannelTimeout)
	killTimer.Stop()

	return &Channel{
		cs:        cs,
		id:        id,
		eventId:   eventId,
		deliver:   make(chan struct{}, 1),
		subs:      make(map[int]*subscription),
		killTimer: killTimer,
		exitChan:  make(chan exitReq),
	}
}

func (ch *Channel) start() {
	ch.cs.log.Printf("loading channel %q", ch.eventId)

	for {
		select {
		case <-ch.deliver:
			ch.deliverAll()
		case <-ch.killTimer.C:
			ch.cs.log.Printf("channel %q idle, unloading", ch.eventId)
			// UnloadChannel sends on exitChan, so it must not run on this
			// goroutine
			go ch.cs.UnloadChannel(ch.eventId, false)
		case e := <-ch.exitChan:
			ch.drain(e)
			return
		}
	}
}

// requestDeliver coalesces delivery triggers: any number of mutations before
// the loop wakes up produce a single fan-out of the current state.
func (ch *Channel) requestDeliver() {
	select {
	case ch.deliver <- struct{}{}:
	default:
	}
}

func (ch *Channel) addSubscriber(sub Subscriber) int {
	ch.subLock.Lock()
	defer ch.subLock.Unlock()

	ch.killTimer.Stop()

	ch.nextSubId++
	id := ch.nextSubId

	s := &subscription{
		sub:  sub,
		feed: make(chan []types.Message, 8),
	}
	ch.subs[id] = s

	go s.pump()

	return id
}

func (ch *Channel) removeSubscriber(id int) {
	ch.subLock.Lock()
	defer ch.subLock.Unlock()

	s, ok := ch.subs[id]
	if !ok {
		return
	}

	delete(ch.subs, id)
	close(s.feed)

	if len(ch.subs) == 0 {
		ch.cs.log.Printf("no subscribers on %q, starting kill timer", ch.eventId)
		ch.killTimer.Reset(idleChannelTimeout)
	}
}

// deliverAll loads the full conversation, re-sorts it by canonical send
// instant and fans the whole list out to every subscriber. Redelivering the
// complete list keeps edits, deletes and role changes consistent without
// per-change diffing.
func (ch *Channel) deliverAll() {
	rows, err := ch.cs.db.GetEventMessages(ch.id)
	if err != nil {
		ch.cs.log.Printf("load messages for channel %q: %v", ch.eventId, err)
		ch.notifyError(fmt.Errorf("load messages: %w", err))
		return
	}

	msgs := ch.cs.enrich(ch.eventId, rows)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].Id < msgs[j].Id
	})

	ch.subLock.Lock()
	defer ch.subLock.Unlock()

	for _, s := range ch.subs {
		select {
		case s.feed <- msgs:
		default:
			ch.cs.log.Printf("dropping delivery for slow subscriber on channel %q", ch.eventId)
		}
	}
}

func (ch *Channel) notifyError(err error) {
	ch.subLock.Lock()
	subs := make([]*subscription, 0, len(ch.subs))
	for _, s := range ch.subs {
		subs = append(subs, s)
	}
	ch.subLock.Unlock()

	for _, s := range subs {
		if s.sub.OnError != nil {
			s.sub.OnError(err)
		}
	}
}

func (ch *Channel) drain(e exitReq) {
	ch.cs.log.Printf("channel %q is exiting", ch.eventId)

	ch.subLock.Lock()
	drained := make([]*subscription, 0, len(ch.subs))
	for id, s := range ch.subs {
		delete(ch.subs, id)
		close(s.feed)
		drained = append(drained, s)
	}
	ch.subLock.Unlock()

	// OnError may re-enter removeSubscriber, so it runs outside the lock
	if e.deleted {
		for _, s := range drained {
			if s.sub.OnError != nil {
				s.sub.OnError(ErrEventNotFound)
			}
		}
	}

	if e.done != nil {
		e.done <- true
	}
}

// exit stops the channel goroutine and waits for it to finish draining.
func (ch *Channel) exit(deleted bool) {
	done := make(chan bool)
	ch.exitChan <- exitReq{deleted: deleted, done: done}
	<-done
}

func (s *subscription) pump() {
	for msgs := range s.feed {
		if s.sub.OnMessages != nil {
			s.sub.OnMessages(msgs)
		}
	}
}
