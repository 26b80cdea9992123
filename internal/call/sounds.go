package call

import "github.com/rs/zerolog/log"

// Sounds plays the audio cues around call membership changes. Peer cues fire
// only for standard calls; broadcasts would be constant noise.
type Sounds interface {
	Join()
	Leave()
	PeerJoined()
	PeerLeft()
}

type NopSounds struct{}

func (NopSounds) Join()       {}
func (NopSounds) Leave()      {}
func (NopSounds) PeerJoined() {}
func (NopSounds) PeerLeft()   {}

// LogSounds stands in where no audio output exists.
type LogSounds struct{}

func (LogSounds) Join()       { log.Debug().Str("module", "call").Msg("cue: join") }
func (LogSounds) Leave()      { log.Debug().Str("module", "call").Msg("cue: leave") }
func (LogSounds) PeerJoined() { log.Debug().Str("module", "call").Msg("cue: peer joined") }
func (LogSounds) PeerLeft()   { log.Debug().Str("module", "call").Msg("cue: peer left") }
