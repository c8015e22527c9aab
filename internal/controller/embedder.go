package controller

import (
	"time"

	"github.com/vanderheijden86/amba/internal/session"
	"github.com/vanderheijden86/amba/pkg/debug"
	"github.com/vanderheijden86/amba/pkg/model"
)

// RunEmbedder is the embedder worker loop. It blocks on its channel while
// the layout has converged, wakes on edge batches or explicit wake-ups, and
// otherwise keeps running layout substeps and requesting repaints.
//
// sess and requestRepaint may be nil in tests.
func RunEmbedder(m *model.Model, rx <-chan EmbedderMsg, sess *session.Session, requestRepaint func()) {
	if requestRepaint == nil {
		requestRepaint = func() {}
	}

	blocking := true
	for {
		var msg EmbedderMsg
		var ok bool
		if blocking {
			msg, ok = <-rx
			if !ok {
				return
			}
		} else {
			select {
			case msg, ok = <-rx:
				if !ok {
					return
				}
			default:
				msg = nil
			}
		}

		switch msg := msg.(type) {
		case EmbedderUpdateEdges:
			m.AddNewEdges(msg.StateEdges, msg.BlockEdges)
			blocking = false
			continue
		case EmbedderWakeUp:
			blocking = false
			continue
		}

		start := time.Now()
		converged := m.RunLayoutIterations()
		if sess != nil {
			if err := sess.RecordLayoutBatch(time.Since(start), converged.IsConverged()); err != nil {
				debug.Log("embedder: record layout batch: %v", err)
			}
		}
		if converged.IsConverged() {
			blocking = true
		}
		requestRepaint()
	}
}
