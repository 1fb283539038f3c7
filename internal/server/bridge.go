package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleet-dashboard/internal/dashboard"
	"fleet-dashboard/internal/link"
	"fleet-dashboard/internal/render"
)

// Broadcaster is the part of the hub the bridge writes to.
type Broadcaster interface {
	Broadcast(msg link.Message) error
}

// Bridge moves engine output onto the map surfaces. Publish and Notify are
// called on the engine loop and never block it: scenes are latest-wins,
// notices are queued and dropped when the queue is full.
type Bridge struct {
	out    Broadcaster
	loc    *time.Location
	logger *slog.Logger

	snaps   chan dashboard.Snapshot
	notices chan link.Message
}

func NewBridge(out Broadcaster, loc *time.Location, lg *slog.Logger) *Bridge {
	return &Bridge{
		out:     out,
		loc:     loc,
		logger:  lg.With("component", "bridge"),
		snaps:   make(chan dashboard.Snapshot, 1),
		notices: make(chan link.Message, 16),
	}
}

// Publish hands over the newest snapshot, replacing one not yet sent.
// It must only be called from one goroutine.
func (b *Bridge) Publish(snap dashboard.Snapshot) {
	select {
	case b.snaps <- snap:
		return
	default:
	}
	select {
	case <-b.snaps:
	default:
	}
	select {
	case b.snaps <- snap:
	default:
	}
}

// Notify implements dashboard.Notifier.
func (b *Bridge) Notify(o dashboard.Outcome) {
	msg := outcomeNotice(o)
	select {
	case b.notices <- msg:
	default:
		b.logger.Warn("notice queue full, dropping", "text", msg.Notice.Text)
	}
}

func outcomeNotice(o dashboard.Outcome) link.Message {
	if !o.OK() {
		return link.NoticeMessage(link.NoticeError, fmt.Sprintf("Could not add location: %v", o.Err))
	}
	name := "location"
	if o.Place != nil {
		name = fmt.Sprintf("%q", o.Place.Name)
	}
	return link.NoticeMessage(link.NoticeSuccess, "Added "+name+" to the map")
}

// Run sends scenes and notices until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-b.snaps:
			if err := b.out.Broadcast(link.SceneMessage(render.Project(snap, b.loc))); err != nil {
				b.logger.Warn("scene broadcast failed", "err", err)
			}
		case msg := <-b.notices:
			if err := b.out.Broadcast(msg); err != nil {
				b.logger.Warn("notice broadcast failed", "err", err)
			}
		}
	}
}
