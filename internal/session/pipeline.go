package session

import "github.com/mossy-p/remote-session/internal/models"

// CapturePipeline is the capture/encode collaborator started when a publisher attaches
// and stopped when it detaches. Calls are made while the room is locked and must not block.
type CapturePipeline interface {
	Start(session models.MediaSession, quality models.Quality) error
	Stop(session models.MediaSession)
}

type noopPipeline struct{}

func (noopPipeline) Start(models.MediaSession, models.Quality) error { return nil }
func (noopPipeline) Stop(models.MediaSession)                        {}
