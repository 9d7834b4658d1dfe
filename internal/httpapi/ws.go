package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

const writeTimeout = 3 * time.Second

func (a *API) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()
	id := uuid.NewString()
	log := a.log.With(zap.String("conn", id))

	out := make(chan visitor.Stats, 8)
	joined, err := a.join(ctx, id, out)
	if err != nil {
		log.Error("snapshot failed", zap.Error(err))
	}
	if !joined {
		return
	}
	defer a.hub.Leave(id)
	log.Info("client connected")

	// Writer goroutine. The first frame is the snapshot queued by join.
	go func() {
		for snap := range out {
			if err := writeStats(ctx, conn, snap); err != nil {
				log.Debug("snapshot write failed", zap.Error(err))
			}
		}
	}()

	// Reader loop
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("client disconnected")
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		size, err := visitor.DecodeGroup(data)
		if err != nil {
			// Replying would hand the client a frame it cannot tell from a
			// snapshot, so bad frames are only logged.
			log.Debug("ignoring frame", zap.Error(err), zap.ByteString("frame", data))
			continue
		}
		snap, err := a.ingest(ctx, size)
		if err != nil {
			log.Error("ingest failed", zap.Error(err), zap.Int("group_size", size))
			continue
		}
		log.Info("group recorded", zap.Int("group_size", size), zap.Int64("total_visitors", snap.TotalVisitors))
	}
}

func writeStats(ctx context.Context, conn *websocket.Conn, snap visitor.Stats) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, snap)
}
