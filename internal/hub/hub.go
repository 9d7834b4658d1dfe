// Package hub keeps the set of connected dashboards and fans snapshots out
// to them.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

type HubMsg interface{ isHubMsg() }

// Join registers an outbox. The hub closes it on Leave or shutdown.
type Join struct {
	ID     string
	Outbox chan visitor.Stats
}

type Leave struct {
	ID string
}

type Broadcast struct {
	Stats visitor.Stats
}

type Count struct {
	Reply chan int
}

type ShutdownHub struct{}

func (Join) isHubMsg()        {}
func (Leave) isHubMsg()       {}
func (Broadcast) isHubMsg()   {}
func (Count) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	conns  map[string]chan visitor.Stats
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		conns:  make(map[string]chan visitor.Stats),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) send(m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Join(id string, outbox chan visitor.Stats) bool {
	return h.send(Join{ID: id, Outbox: outbox})
}

func (h *Hub) Leave(id string) { h.send(Leave{ID: id}) }

func (h *Hub) Broadcast(s visitor.Stats) { h.send(Broadcast{Stats: s}) }

// Count returns the number of joined connections, or -1 once the hub stopped.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	if !h.send(Count{Reply: reply}) {
		return -1
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return -1
	}
}

// Shutdown closes every outbox and stops the loop.
func (h *Hub) Shutdown() {
	h.send(ShutdownHub{})
	<-h.done
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				if old := h.conns[msg.ID]; old != nil {
					close(old)
				}
				h.conns[msg.ID] = msg.Outbox
				h.log.Debug("connection joined", zap.String("conn", msg.ID), zap.Int("active", len(h.conns)))

			case Leave:
				if out := h.conns[msg.ID]; out != nil {
					close(out)
					delete(h.conns, msg.ID)
				}
				h.log.Debug("connection left", zap.String("conn", msg.ID), zap.Int("active", len(h.conns)))

			case Broadcast:
				for id, out := range h.conns {
					select {
					case out <- msg.Stats:
					default:
						// Slow reader: it gets the next full snapshot instead.
						h.log.Debug("outbox full, snapshot skipped", zap.String("conn", id))
					}
				}

			case Count:
				msg.Reply <- len(h.conns)

			case ShutdownHub:
				h.closeAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) closeAll() {
	for id, out := range h.conns {
		close(out)
		delete(h.conns, id)
	}
}
