package usecase

import (
	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/metrics"
	"aura/internal/ports"
)

// frameForwarder returns the capture consumer for one session. Frames are
// dropped until the socket is open and forwarded in capture order after.
func frameForwarder(active *activeSession, log *logger.Logger, m *metrics.Metrics) ports.FrameConsumer {
	return func(frame domain.AudioFrame) {
		if m != nil {
			m.FramesCaptured.Inc()
		}

		stream := active.sink()
		if stream == nil {
			active.droppedBeforeOpen.Add(1)
			if m != nil {
				m.FramesDropped.Inc()
			}
			return
		}

		if err := stream.SendAudio(frame); err != nil {
			if m != nil {
				m.FramesDropped.Inc()
			}
			if !active.isStopping() {
				log.Debug("Failed to forward audio frame", logger.Error(err))
			}
		}
	}
}
