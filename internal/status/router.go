// Package status exposes a local control and diagnostics surface for the
// call client: join/leave/mute over HTTP plus a session snapshot endpoint.
package status

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/call"
	"github.com/atrium/callkit/internal/devices"
	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/session"
)

type peerView struct {
	ID          domain.PeerID `json:"id"`
	DisplayName string        `json:"displayName"`
	Consumers   []string      `json:"consumers"`
	Talking     bool          `json:"talking"`
	HandRaised  bool          `json:"handRaised"`
	Broadcaster bool          `json:"broadcaster"`
}

type snapshotView struct {
	CallID        domain.CallID     `json:"callId"`
	CallName      string            `json:"callName"`
	RoomState     session.RoomState `json:"roomState"`
	Muted         bool              `json:"muted"`
	AudioOnly     bool              `json:"audioOnly"`
	Peers         []peerView        `json:"peers"`
	Producers     []string          `json:"producers"`
	Consumers     int               `json:"consumers"`
	ActiveSpeaker domain.PeerID     `json:"activeSpeaker"`
}

type deviceView struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Facing string `json:"facing,omitempty"`
}

func deviceViews(list []devices.Device) []deviceView {
	views := make([]deviceView, 0, len(list))
	for _, d := range list {
		v := deviceView{ID: d.ID, Label: d.Label, Kind: string(d.Kind)}
		if d.Kind == devices.KindVideoInput {
			v.Facing = string(d.Facing)
		}
		views = append(views, v)
	}
	return views
}

func snapshot(s session.State) snapshotView {
	view := snapshotView{
		CallID:        s.CallID,
		CallName:      s.CallName,
		RoomState:     s.RoomState,
		Muted:         s.Muted,
		AudioOnly:     s.AudioOnly,
		Consumers:     len(s.Consumers),
		ActiveSpeaker: s.ActiveSpeaker,
	}
	for _, p := range s.Peers {
		view.Peers = append(view.Peers, peerView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Consumers:   p.Consumers,
			Talking:     p.Talking,
			HandRaised:  p.HandRaised,
			Broadcaster: p.Broadcaster,
		})
	}
	for id := range s.Producers {
		view.Producers = append(view.Producers, id)
	}
	return view
}

// SetupRouter builds the gin engine for the local control endpoint.
func SetupRouter(mode string, m *call.Manager, a call.CallAPI, src *devices.Source) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "status").Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshot(m.State()))
	})

	api.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"microphones": deviceViews(src.Microphones()),
			"cameras":     deviceViews(src.Cameras()),
			"outputs":     deviceViews(src.Outputs()),
		})
	})

	api.POST("/join/:callId", func(c *gin.Context) {
		callData, err := a.GetCall(c.Request.Context(), domain.CallID(c.Param("callId")))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := m.JoinCall(c.Request.Context(), callData); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshot(m.State()))
	})

	api.POST("/leave", func(c *gin.Context) {
		m.LeaveCall()
		c.Status(http.StatusNoContent)
	})

	api.POST("/mute/toggle", func(c *gin.Context) {
		if err := m.ToggleMute(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"muted": m.State().Muted})
	})

	api.POST("/webcam/toggle", func(c *gin.Context) {
		sc, ok := m.Client().(*session.Client)
		if !ok || sc == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		if m.State().Me.Webcam {
			sc.DisableWebcam(c.Request.Context())
		} else if err := sc.EnableWebcam(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"webcam": m.State().Me.Webcam})
	})

	api.POST("/share/toggle", func(c *gin.Context) {
		sc, ok := m.Client().(*session.Client)
		if !ok || sc == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		if m.State().Me.Sharing {
			sc.DisableShare(c.Request.Context())
		} else if err := sc.EnableShare(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sharing": m.State().Me.Sharing})
	})

	api.POST("/spotlight", func(c *gin.Context) {
		var body struct {
			PeerID string `json:"peerId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
			return
		}
		sc, ok := m.Client().(*session.Client)
		if !ok || sc == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		sc.SpotlightPeer(domain.PeerID(body.PeerID))
		c.Status(http.StatusNoContent)
	})

	api.POST("/reaction", func(c *gin.Context) {
		var body struct {
			Emoji string `json:"emoji"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Emoji == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "emoji required"})
			return
		}
		sc, ok := m.Client().(*session.Client)
		if !ok || sc == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		if err := sc.SendReaction(c.Request.Context(), body.Emoji); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
